package router

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// clientIP returns the address of the buyer behind Cloudflare or a reverse
// proxy. IPv4-mapped IPv6 addresses are reduced to their IPv4 form.
func clientIP(c *fiber.Ctx) string {
	if ip := strings.TrimSpace(c.Get("CF-Connecting-IP")); ip != "" {
		return unmapIPv4(ip)
	}
	// the first X-Forwarded-For entry is the original client
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return unmapIPv4(ip)
		}
	}
	if ip := strings.TrimSpace(c.Get("X-Real-IP")); ip != "" {
		return unmapIPv4(ip)
	}
	return unmapIPv4(c.IP())
}

func unmapIPv4(ip string) string {
	if strings.HasPrefix(ip, "::ffff:") && strings.Contains(ip, ".") {
		return strings.TrimPrefix(ip, "::ffff:")
	}
	return ip
}
