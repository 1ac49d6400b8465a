package paymentwebhook

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/magabrotheeeer/vpn-provisioner/internal/http/response"
)

// Networks набор адресов и подсетей.
type Networks []netip.Prefix

// ParseNetworks разбирает список CIDR и одиночных адресов.
func ParseNetworks(list []string) (Networks, error) {
	const op = "paymentwebhook.ParseNetworks"
	nets := make(Networks, 0, len(list))
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			nets = append(nets, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		nets = append(nets, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
	}
	return nets, nil
}

// Contains сообщает, входит ли адрес в один из диапазонов.
func (n Networks) Contains(a netip.Addr) bool {
	a = a.Unmap()
	for _, p := range n {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func parseAddr(s string) (netip.Addr, bool) {
	a, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

// ClientIP возвращает адрес клиента. Заголовки X-Real-IP и X-Forwarded-For
// учитываются только если непосредственный отправитель входит в proxies.
func ClientIP(r *http.Request, proxies Networks) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, ok := parseAddr(host)
	if !ok {
		return netip.Addr{}, false
	}
	if !proxies.Contains(peer) {
		return peer, true
	}

	if xr, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
		return xr, true
	}
	// справа налево до первого адреса, который не является нашим прокси
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			a, ok := parseAddr(hops[i])
			if !ok {
				return netip.Addr{}, false
			}
			if !proxies.Contains(a) {
				return a, true
			}
		}
	}
	return peer, true
}

// TrustedIPMiddleware пропускает только запросы с адресов allowed.
func TrustedIPMiddleware(allowed, proxies Networks, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, ok := ClientIP(r, proxies)
			if !ok || !allowed.Contains(ip) {
				log.Warn("webhook from untrusted address",
					slog.String("remote_addr", r.RemoteAddr), slog.String("client_ip", ip.String()))
				response.Write(w, r, http.StatusForbidden, response.Error("forbidden"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
