package binprovider

import (
	"encoding/json"
	"strings"
)

type response struct {
	Success bool     `json:"success"`
	BIN     *binInfo `json:"BIN"`
}

// binInfo accepts the shapes the provider has been seen to return: issuer and
// country as either objects or bare strings, prepaid as bool or "yes"/"no".
type binInfo struct {
	Valid   *bool    `json:"valid"`
	Issuer  named    `json:"issuer"`
	Country country  `json:"country"`
	Type    string   `json:"type"`
	Brand   string   `json:"brand"`
	Scheme  string   `json:"scheme"`
	Level   string   `json:"level"`
	Tier    string   `json:"tier"`
	Prepaid flexBool `json:"is_prepaid"`
}

type named struct {
	Name string `json:"name"`
}

func (n *named) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		n.Name = s
		return nil
	}
	type plain named
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*n = named(p)
	return nil
}

type country struct {
	Name   string `json:"name"`
	Alpha2 string `json:"alpha2"`
}

func (c *country) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Name = s
		return nil
	}
	type plain country
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = country(p)
	return nil
}

type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil // null or unexpected shape: leave false
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}
