// Package utils provides utility functions for the Contatto bridge.
// This file contains time parsing and string formatting helpers used by the vendor client.
package utils

import (
	"fmt"
	"strings"
	"time"
)

// ================================================================================
// Time Conversion
// ================================================================================

// vendorTimeLayouts are the timestamp formats seen in vendor report rows
var vendorTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseVendorTime parses a vendor timestamp. Values without a zone are taken as UTC.
func ParseVendorTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range vendorTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// ================================================================================
// String Formatting
// ================================================================================

// MaskEmail masks the local part of an email address
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	local := email[:at]
	if len(local) <= 2 {
		return strings.Repeat("*", len(local)) + email[at:]
	}
	return local[:1] + strings.Repeat("*", len(local)-2) + local[len(local)-1:] + email[at:]
}
