package domain

import (
	"strings"
	"time"
)

// StubHandlePrefix prefixes the handle synthesized for accounts whose legacy
// profile row could not be read.
const StubHandlePrefix = "cardy-"

// Profile is a named identity ("cards identity") belonging to one account.
// The legacy-backed primary uses the account id as its ID.
type Profile struct {
	ID             string    `json:"id"`
	OwnerAccountID string    `json:"owner_account_id"`
	Handle         string    `json:"handle"`
	DisplayName    string    `json:"display_name,omitempty"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	Bio            string    `json:"bio,omitempty"`
	IsPrimary      bool      `json:"is_primary"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// IsLegacyBacked reports whether the profile is the synthesized primary backed
// by the legacy single-profile row.
func (p Profile) IsLegacyBacked() bool {
	return p.ID != "" && p.ID == p.OwnerAccountID
}

// MatchesHandle compares handles case-insensitively after trimming.
func (p Profile) MatchesHandle(handle string) bool {
	return NormalizeHandle(p.Handle) == NormalizeHandle(handle)
}

// ProfileFields describes a partial update. Nil fields are left unchanged.
type ProfileFields struct {
	Handle      *string `json:"handle,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	Bio         *string `json:"bio,omitempty"`
}

// Empty reports whether no field is set.
func (f ProfileFields) Empty() bool {
	return f.Handle == nil && f.DisplayName == nil && f.AvatarURL == nil && f.Bio == nil
}

// Apply returns a copy of p with the set fields overwritten.
func (f ProfileFields) Apply(p Profile) Profile {
	if f.Handle != nil {
		p.Handle = *f.Handle
	}
	if f.DisplayName != nil {
		p.DisplayName = *f.DisplayName
	}
	if f.AvatarURL != nil {
		p.AvatarURL = *f.AvatarURL
	}
	if f.Bio != nil {
		p.Bio = *f.Bio
	}
	return p
}

// NewProfile is the input for inserting a multi-profile row.
type NewProfile struct {
	OwnerAccountID string
	Handle         string
	DisplayName    string
	AvatarURL      string
	Bio            string
}

// NormalizeHandle trims surrounding whitespace and lowercases the handle.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// StubProfile synthesizes the primary used when the legacy row is unreadable.
func StubProfile(accountID string) Profile {
	short := accountID
	if r := []rune(accountID); len(r) > 6 {
		short = string(r[:6])
	}
	return Profile{
		ID:             accountID,
		OwnerAccountID: accountID,
		Handle:         StubHandlePrefix + short,
	}
}

// StringPtr is a convenience for building ProfileFields.
func StringPtr(s string) *string { return &s }
