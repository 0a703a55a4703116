// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package oidc

import (
	"github.com/tidwall/gjson"

	"github.com/lighthouse-oidc/lighthouse/pkg/oidcerr"
)

// RequestedClaims is a validated OIDC claims request parameter (OIDC Core
// §5.5). The document is kept serialized and inspected lazily; it travels
// through the authorization context into the issued tokens.
type RequestedClaims struct {
	raw string
}

// ParseRequestedClaims validates the claims parameter shape: a JSON object
// whose recognized members are the id_token and userinfo objects.
func ParseRequestedClaims(raw string) (*RequestedClaims, error) {
	if raw == "" {
		return nil, nil
	}
	if !gjson.Valid(raw) {
		return nil, oidcerr.InvalidRequest("claims parameter is not valid JSON")
	}
	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return nil, oidcerr.InvalidRequest("claims parameter must be a JSON object")
	}
	for _, section := range []string{"id_token", "userinfo"} {
		if member := doc.Get(section); member.Exists() && !member.IsObject() {
			return nil, oidcerr.InvalidRequest("claims." + section + " must be a JSON object")
		}
	}
	return &RequestedClaims{raw: raw}, nil
}

// Raw returns the serialized form for storage in the authorization context.
func (c *RequestedClaims) Raw() string {
	if c == nil {
		return ""
	}
	return c.raw
}

// IDTokenClaimNames lists the claims requested for the identity token. A nil
// result means no id_token section was requested and no selection applies.
func (c *RequestedClaims) IDTokenClaimNames() []string {
	return c.sectionNames("id_token")
}

// UserInfoClaimNames lists the claims requested for the userinfo response.
func (c *RequestedClaims) UserInfoClaimNames() []string {
	return c.sectionNames("userinfo")
}

// Essential reports whether the claim was marked essential in the section.
// Essential-ness does not change issuance: a claim the session cannot supply
// is omitted, not an error (OIDC Core §5.5.1).
func (c *RequestedClaims) Essential(section, name string) bool {
	if c == nil {
		return false
	}
	return gjson.Get(c.raw, section+"."+name+".essential").Bool()
}

func (c *RequestedClaims) sectionNames(section string) []string {
	if c == nil {
		return nil
	}
	member := gjson.Get(c.raw, section)
	if !member.IsObject() {
		return nil
	}
	var names []string
	member.ForEach(func(key, _ gjson.Result) bool {
		names = append(names, key.String())
		return true
	})
	return names
}
