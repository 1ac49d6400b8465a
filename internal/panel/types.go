package panel

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// apiResponse общий конверт ответа 3x-ui.
type apiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

// inbound сырой inbound: settings и streamSettings приходят строками с JSON внутри.
type inbound struct {
	ID             int             `json:"id"`
	Remark         string          `json:"remark"`
	Enable         bool            `json:"enable"`
	Protocol       string          `json:"protocol"`
	Port           int             `json:"port"`
	Settings       json.RawMessage `json:"settings"`
	StreamSettings json.RawMessage `json:"streamSettings"`
}

// ClientEntry запись клиента в settings.clients.
type ClientEntry struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Enable     bool   `json:"enable"`
	Flow       string `json:"flow"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	TgID       string `json:"tgId"`
	SubID      string `json:"subId"`
}

type realitySettings struct {
	ServerNames []string `json:"serverNames"`
	ShortIDs    []string `json:"shortIds"`
	Settings    struct {
		PublicKey   string `json:"publicKey"`
		Fingerprint string `json:"fingerprint"`
		ServerName  string `json:"serverName"`
		SpiderX     string `json:"spiderX"`
	} `json:"settings"`
}

type tlsSettings struct {
	ServerName string `json:"serverName"`
	Settings   struct {
		Fingerprint string `json:"fingerprint"`
	} `json:"settings"`
}

type streamSettings struct {
	Network         string          `json:"network"`
	Security        string          `json:"security"`
	RealitySettings realitySettings `json:"realitySettings"`
	TLSSettings     tlsSettings     `json:"tlsSettings"`
}

// RealityParams параметры reality, нужные для ссылки подключения.
type RealityParams struct {
	PublicKey   string `json:"public_key"`
	Fingerprint string `json:"fingerprint"`
	ServerName  string `json:"server_name"`
	ShortID     string `json:"short_id"`
	SpiderX     string `json:"spider_x"`
}

// Profile конфигурация inbound, из которой строится ссылка.
type Profile struct {
	InboundID  int            `json:"inbound_id"`
	Protocol   string         `json:"protocol"`
	Port       int            `json:"port"`
	Network    string         `json:"network"`
	Security   string         `json:"security"`
	TLSSNI     string         `json:"tls_sni,omitempty"`
	Reality    *RealityParams `json:"reality,omitempty"`
	ClientFlow string         `json:"client_flow,omitempty"`
	Clients    []ClientEntry  `json:"-"`
}

// normalize снимает строковую обёртку с JSON: панель отдаёт часть полей
// как строку, внутри которой лежит JSON (иногда дважды).
func normalize(raw json.RawMessage) (json.RawMessage, error) {
	for range 3 {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			return json.RawMessage("{}"), nil
		}
		if trimmed[0] != '"' {
			return trimmed, nil
		}
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil, err
		}
		if inner == "" {
			return json.RawMessage("{}"), nil
		}
		raw = json.RawMessage(inner)
	}
	return nil, fmt.Errorf("too many levels of string encoding")
}

// decodeSettings разбирает settings в дерево с сохранением всех полей
// (включая незнакомые) и точных чисел.
func decodeSettings(raw json.RawMessage) (map[string]any, error) {
	norm, err := normalize(raw)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(norm))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// clientList возвращает settings.clients как срез объектов.
func clientList(settings map[string]any) ([]map[string]any, error) {
	rawClients, ok := settings["clients"]
	if !ok || rawClients == nil {
		return nil, nil
	}
	items, ok := rawClients.([]any)
	if !ok {
		return nil, fmt.Errorf("clients is %T, want array", rawClients)
	}
	out := make([]map[string]any, 0, len(items))
	for i, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("client %d is %T, want object", i, it)
		}
		out = append(out, m)
	}
	return out, nil
}

func parseProfile(in *inbound) (*Profile, error) {
	settings, err := normalize(in.Settings)
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	var s struct {
		Clients []ClientEntry `json:"clients"`
	}
	if err := json.Unmarshal(settings, &s); err != nil {
		// tgId бывает числом, поэтому список клиентов разбираем мягко
		s.Clients = lenientClients(settings)
	}

	stream, err := normalize(in.StreamSettings)
	if err != nil {
		return nil, fmt.Errorf("streamSettings: %w", err)
	}
	var ss streamSettings
	if err := json.Unmarshal(stream, &ss); err != nil {
		return nil, fmt.Errorf("streamSettings: %w", err)
	}

	p := &Profile{
		InboundID: in.ID,
		Protocol:  in.Protocol,
		Port:      in.Port,
		Network:   ss.Network,
		Security:  ss.Security,
		Clients:   s.Clients,
	}
	if p.Network == "" {
		p.Network = "tcp"
	}
	if p.Security == "" {
		p.Security = "none"
	}

	switch p.Security {
	case "reality":
		r := ss.RealitySettings
		rp := &RealityParams{
			PublicKey:   r.Settings.PublicKey,
			Fingerprint: r.Settings.Fingerprint,
			ServerName:  r.Settings.ServerName,
			SpiderX:     r.Settings.SpiderX,
		}
		if len(r.ServerNames) > 0 {
			rp.ServerName = r.ServerNames[0]
		}
		if len(r.ShortIDs) > 0 {
			rp.ShortID = r.ShortIDs[0]
		}
		if rp.Fingerprint == "" {
			rp.Fingerprint = "chrome"
		}
		if rp.PublicKey == "" {
			return nil, fmt.Errorf("reality inbound %d has no public key", in.ID)
		}
		p.Reality = rp
	case "tls":
		p.TLSSNI = ss.TLSSettings.ServerName
	}

	for _, c := range s.Clients {
		if c.Flow != "" {
			p.ClientFlow = c.Flow
			break
		}
	}
	return p, nil
}

func lenientClients(settings json.RawMessage) []ClientEntry {
	tree, err := decodeSettings(settings)
	if err != nil {
		return nil
	}
	list, err := clientList(tree)
	if err != nil {
		return nil
	}
	out := make([]ClientEntry, 0, len(list))
	for _, m := range list {
		e := ClientEntry{}
		e.ID, _ = m["id"].(string)
		e.Email, _ = m["email"].(string)
		e.Flow, _ = m["flow"].(string)
		e.Enable, _ = m["enable"].(bool)
		if n, ok := m["expiryTime"].(json.Number); ok {
			e.ExpiryTime, _ = n.Int64()
		}
		if n, ok := m["totalGB"].(json.Number); ok {
			e.TotalGB, _ = n.Int64()
		}
		out = append(out, e)
	}
	return out
}
