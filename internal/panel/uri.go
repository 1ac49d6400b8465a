package panel

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Host извлекает хост и порт панели из её API URL.
func Host(apiURL string) (string, int, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", 0, fmt.Errorf("panel.Host: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("panel.Host: no host in %q", apiURL)
	}
	port := 443
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return host, port, nil
}

// Label человекочитаемая метка ключа: имя панели и короткий id.
func Label(panelName, credentialID string) string {
	short := credentialID
	if len(short) > 8 {
		short = short[:8]
	}
	name := strings.TrimSpace(panelName)
	if name == "" {
		return short
	}
	return name + "-" + short
}

// BuildURI собирает ссылку vless://id@host:port?params#label.
// fallbackPort используется, если в профиле не указан порт inbound.
func BuildURI(p *Profile, host string, fallbackPort int, credentialID, label string) string {
	port := p.Port
	if port == 0 {
		port = fallbackPort
	}

	q := url.Values{}
	q.Set("type", p.Network)
	q.Set("security", p.Security)
	q.Set("encryption", "none")
	switch {
	case p.Reality != nil:
		q.Set("pbk", p.Reality.PublicKey)
		q.Set("fp", p.Reality.Fingerprint)
		if p.Reality.ServerName != "" {
			q.Set("sni", p.Reality.ServerName)
		}
		if p.Reality.ShortID != "" {
			q.Set("sid", p.Reality.ShortID)
		}
		spx := p.Reality.SpiderX
		if spx == "" {
			spx = "/"
		}
		q.Set("spx", spx)
	case p.Security == "tls" && p.TLSSNI != "":
		q.Set("sni", p.TLSSNI)
	}
	if p.ClientFlow != "" {
		q.Set("flow", p.ClientFlow)
	}

	scheme := p.Protocol
	if scheme == "" {
		scheme = "vless"
	}
	u := url.URL{
		Scheme:   scheme,
		User:     url.User(credentialID),
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		RawQuery: q.Encode(),
		Fragment: label,
	}
	return u.String()
}
