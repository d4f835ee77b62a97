package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectIoCType(t *testing.T) {
	cases := []struct {
		value string
		want  IoCType
	}{
		{"203.0.113.7", IoCTypeIP},
		{"  203.0.113.7  ", IoCTypeIP},
		{"999.1.1.1", ""},
		{"evil.example.com", IoCTypeDomain},
		{"EVIL.EXAMPLE.COM", IoCTypeDomain},
		{"Evil.Example.COM.", IoCTypeDomain},
		{"evil.example.com..", ""},
		{"https://evil.example.com/payload", IoCTypeURL},
		{"www.evil.example.com", IoCTypeURL},
		{"d41d8cd98f00b204e9800998ecf8427e", IoCTypeHashMD5},
		{"da39a3ee5e6b4b0d3255bfef95601890afd80709", IoCTypeHashSHA1},
		{"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", IoCTypeHashSHA256},
		{"not an indicator", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DetectIoCType(tc.value), "value %q", tc.value)
	}
}

func TestNormalizeIoCValue(t *testing.T) {
	assert.Equal(t, "evil.example.com", NormalizeIoCValue(IoCTypeDomain, "EVIL.Example.COM."))
	assert.Equal(t, "https://evil.example.com/x", NormalizeIoCValue(IoCTypeURL, "HTTPS://evil.example.com/x/"))
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", NormalizeIoCValue(IoCTypeHashMD5, "D41D8CD98F00B204E9800998ECF8427E"))
	assert.Equal(t, "203.0.113.7", NormalizeIoCValue(IoCTypeIP, " 203.0.113.7 "))
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, ClampScore(-5))
	assert.Equal(t, 42.5, ClampScore(42.5))
	assert.Equal(t, 100.0, ClampScore(140))
}

func TestUnionStrings(t *testing.T) {
	assert.Nil(t, UnionStrings(nil, nil))
	assert.Equal(t, []string{"a", "b", "c"}, UnionStrings([]string{"a", "b"}, []string{"b", "c"}))
	assert.Equal(t, []string{"a"}, UnionStrings([]string{"a", "a", ""}, nil), "duplicates and empties dropped")
}

func TestMetadataMerge(t *testing.T) {
	base := Metadata{
		ServiceType: "ssh",
		SkillLevel:  "script_kiddie",
		Tools:       []string{"hydra"},
		Extra:       map[string]string{"asn": "64500"},
	}
	incoming := Metadata{
		SkillLevel: "advanced",
		Tools:      []string{"hydra", "nmap"},
		Extra:      map[string]string{"country": "NL"},
	}

	merged := base.Merge(incoming)
	assert.Equal(t, "ssh", merged.ServiceType, "empty incoming fields never clobber")
	assert.Equal(t, "advanced", merged.SkillLevel)
	assert.Equal(t, []string{"hydra", "nmap"}, merged.Tools)
	assert.Equal(t, "64500", merged.Extra["asn"])
	assert.Equal(t, "NL", merged.Extra["country"])
}

func TestMetadataIsZero(t *testing.T) {
	assert.True(t, Metadata{}.IsZero())
	assert.False(t, Metadata{Intent: "recon"}.IsZero())
}
