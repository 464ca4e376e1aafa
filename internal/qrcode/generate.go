package qrcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	joinCodeLength = 6
	joinCodeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// MaxAttempts bounds the unique-code retry loops
	MaxAttempts = 10
)

// NewJoinCode generates a random 6-character company join code
func NewJoinCode() string {
	return randomString(joinCodeLength)
}

// NewProfileCode returns SKIPLINE_<first 8 chars of id, upper>_<unix ms>
func NewProfileCode(profileID string, now time.Time) string {
	short := strings.ReplaceAll(profileID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s%s_%d", prefixSkipline, strings.ToUpper(short), now.UnixMilli())
}

// NewCompanyCode returns COMPANY_<join code>_<unix ms>
func NewCompanyCode(joinCode string, now time.Time) string {
	return fmt.Sprintf("%s%s_%d", PrefixCompany, joinCode, now.UnixMilli())
}

// NewGuestCode returns SKIPLINE_VISITOR_<random>_<unix ms>
func NewGuestCode(now time.Time) string {
	return fmt.Sprintf("%s%s_%d", PrefixVisitor, randomString(joinCodeLength), now.UnixMilli())
}

// JoinURL is the link encoded in a company's printed code
func JoinURL(publicURL, joinCode string) string {
	return strings.TrimRight(publicURL, "/") + joinSegment + joinCode
}

func randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		idx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(joinCodeChars))))
		b[i] = joinCodeChars[idx.Int64()]
	}
	return string(b)
}
