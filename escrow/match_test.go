package escrow_test

import (
	"testing"

	"github.com/xraph/tally/escrow"
)

func TestNormalizeArtist(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Beyoncé", "beyonce"},
		{"  Sigur   Rós ", "sigur ros"},
		{"MØ", "mø"},
		{"ARTIST\tName", "artist name"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := escrow.NormalizeArtist(tt.in); got != tt.want {
				t.Errorf("NormalizeArtist(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMatchCriteria(t *testing.T) {
	withIDs := &escrow.Allocation{ExternalIDs: map[string]string{"spotify": "sp1", "youtube": "yt1"}}
	withoutIDs := &escrow.Allocation{}

	tests := []struct {
		name     string
		criteria escrow.MatchCriteria
		alloc    *escrow.Allocation
		want     bool
	}{
		{"name only", escrow.MatchCriteria{}, withIDs, true},
		{"allocation without ids", escrow.MatchCriteria{ExternalIDs: map[string]string{"spotify": "sp1"}}, withoutIDs, false},
		{"name only without ids", escrow.MatchCriteria{}, withoutIDs, true},
		{"platform agrees", escrow.MatchCriteria{ExternalIDs: map[string]string{"spotify": "sp1"}}, withIDs, true},
		{"platform conflicts", escrow.MatchCriteria{ExternalIDs: map[string]string{"spotify": "sp2"}}, withIDs, false},
		{"no shared platform", escrow.MatchCriteria{ExternalIDs: map[string]string{"apple": "ap1"}}, withIDs, false},
		{"one agrees one conflicts", escrow.MatchCriteria{ExternalIDs: map[string]string{"spotify": "sp1", "youtube": "yt9"}}, withIDs, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.criteria.Matches(tt.alloc); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
