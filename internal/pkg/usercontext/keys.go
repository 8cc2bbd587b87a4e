package usercontext

// Locals key the request's UserContext is stored under.
const KeyUserContext = "USER_CONTEXT"
