// Package qrcode classifies scanned strings and mints the scannable codes
// handed out to profiles, guests and companies.
//
// Classification is syntactic only. A code that has the right shape is
// accepted here and can only be refuted by a later lookup.
package qrcode

import (
	"strings"
)

// Kind names the variant of a classified code
type Kind string

const (
	KindCompany      Kind = "company"
	KindCustomer     Kind = "customer"
	KindGuest        Kind = "guest"
	KindUnrecognized Kind = "unrecognized"
)

const (
	PrefixUser     = "SKIPLINE_USER_"
	PrefixVisitor  = "SKIPLINE_VISITOR_"
	PrefixCompany  = "COMPANY_"
	prefixSkipline = "SKIPLINE_"
	prefixSkipCo   = "SKIPLINE_COMPANY_"
	prefixDB       = "QR_"
	joinSegment    = "/join/"
	clientSegment  = "/client/"
)

// Code is one of Company, Customer, Guest or Unrecognized
type Code interface {
	Kind() Kind
	Raw() string
	isCode()
}

// Company is a company join code
type Company struct {
	JoinCode string
	raw      string
}

// Customer references a customer profile, either by ID or by a stored code
type Customer struct {
	ID string
	// StoredCode is set when the scan is a raw stored profile code that must
	// be resolved by code lookup rather than by ID
	StoredCode string
	raw        string
}

// Guest references a guest profile by its stored code
type Guest struct {
	Code string
}

// Unrecognized holds a string that matched no known shape
type Unrecognized struct {
	Value string
}

func (c Company) Kind() Kind  { return KindCompany }
func (c Company) Raw() string { return c.raw }
func (Company) isCode()       {}

func (c Customer) Kind() Kind  { return KindCustomer }
func (c Customer) Raw() string { return c.raw }
func (Customer) isCode()       {}

func (g Guest) Kind() Kind  { return KindGuest }
func (g Guest) Raw() string { return g.Code }
func (Guest) isCode()       {}

func (u Unrecognized) Kind() Kind  { return KindUnrecognized }
func (u Unrecognized) Raw() string { return u.Value }
func (Unrecognized) isCode()       {}

// Classify decodes a scanned or pasted string
func Classify(input string) Code {
	raw := strings.TrimSpace(input)

	switch {
	case strings.Contains(raw, joinSegment):
		code := companyCodeFrom(segmentAfter(raw, joinSegment))
		if code == "" {
			return Unrecognized{Value: raw}
		}
		return Company{JoinCode: code, raw: raw}

	case strings.HasPrefix(raw, prefixSkipCo):
		return companyOrUnrecognized(strings.TrimPrefix(raw, prefixSkipCo), raw)

	case strings.HasPrefix(raw, PrefixCompany):
		return companyOrUnrecognized(raw, raw)

	case strings.HasPrefix(raw, PrefixUser):
		id := strings.TrimPrefix(raw, PrefixUser)
		if id == "" {
			return Unrecognized{Value: raw}
		}
		return Customer{ID: id, raw: raw}

	case strings.Contains(raw, clientSegment):
		id := segmentAfter(raw, clientSegment)
		if id == "" {
			return Unrecognized{Value: raw}
		}
		return Customer{ID: id, raw: raw}

	case strings.HasPrefix(raw, PrefixVisitor):
		if len(raw) == len(PrefixVisitor) {
			return Unrecognized{Value: raw}
		}
		return Guest{Code: raw}

	case strings.HasPrefix(raw, prefixSkipline) && len(raw) > len(prefixSkipline):
		return Customer{StoredCode: raw, raw: raw}

	case strings.HasPrefix(raw, prefixDB) && len(raw) > len(prefixDB):
		return Customer{StoredCode: raw, raw: raw}
	}

	return Unrecognized{Value: raw}
}

func companyOrUnrecognized(s, raw string) Code {
	code := companyCodeFrom(s)
	if code == "" {
		return Unrecognized{Value: raw}
	}
	return Company{JoinCode: code, raw: raw}
}

// companyCodeFrom accepts a bare join code or a COMPANY_<code>_<ts> literal
func companyCodeFrom(s string) string {
	if strings.HasPrefix(s, PrefixCompany) {
		parts := strings.Split(s, "_")
		if len(parts) < 2 {
			return ""
		}
		return parts[1]
	}
	return s
}

// segmentAfter returns the path segment that follows marker
func segmentAfter(s, marker string) string {
	idx := strings.Index(s, marker)
	rest := s[idx+len(marker):]
	if end := strings.IndexAny(rest, "/?#"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}
