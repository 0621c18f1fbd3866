package domain

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// InfoHash is the hex encoded v1 info-hash of a torrent.
type InfoHash string

type DescriptorKind string

const (
	DescriptorMagnet      DescriptorKind = "magnet"
	DescriptorTorrentFile DescriptorKind = "torrent"
	DescriptorInfoHash    DescriptorKind = "infohash"
)

// EncodedPrefix marks the URI-safe form of a descriptor. Magnet links carry
// '?', '&' and '/' which SQLite and io/fs both treat specially, so they travel
// base64url encoded behind this prefix.
const EncodedPrefix = "btih-b64:"

// Descriptor references swarm-distributed content. It is resolved once, when
// a database file is opened.
type Descriptor struct {
	Kind     DescriptorKind `json:"kind"`
	Magnet   string         `json:"magnet,omitempty"`
	Torrent  string         `json:"torrent,omitempty"`
	InfoHash InfoHash       `json:"infoHash,omitempty"`
}

// ParseDescriptor classifies raw as a magnet link, a .torrent metadata file
// path, a bare 40 character hex info-hash or an encoded descriptor.
func ParseDescriptor(raw string) (Descriptor, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Descriptor{}, fmt.Errorf("%w: empty descriptor", ErrCannotResolveContent)
	}

	if strings.HasPrefix(s, EncodedPrefix) {
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, EncodedPrefix))
		if err != nil {
			return Descriptor{}, fmt.Errorf("%w: bad encoded descriptor: %v", ErrCannotResolveContent, err)
		}
		if strings.HasPrefix(string(decoded), EncodedPrefix) {
			return Descriptor{}, fmt.Errorf("%w: nested encoded descriptor", ErrCannotResolveContent)
		}
		return ParseDescriptor(string(decoded))
	}

	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "magnet:"):
		u, err := url.Parse(s)
		if err != nil {
			return Descriptor{}, fmt.Errorf("%w: %v", ErrCannotResolveContent, err)
		}
		xt := u.Query().Get("xt")
		if !strings.HasPrefix(strings.ToLower(xt), "urn:btih:") {
			return Descriptor{}, fmt.Errorf("%w: magnet without btih topic", ErrCannotResolveContent)
		}
		return Descriptor{Kind: DescriptorMagnet, Magnet: s}, nil
	case strings.HasSuffix(lower, ".torrent"):
		return Descriptor{Kind: DescriptorTorrentFile, Torrent: s}, nil
	case isHexInfoHash(s):
		return Descriptor{Kind: DescriptorInfoHash, InfoHash: InfoHash(lower)}, nil
	}
	return Descriptor{}, fmt.Errorf("%w: unrecognised descriptor %q", ErrCannotResolveContent, s)
}

// IsDescriptor reports whether name parses as a content descriptor.
func IsDescriptor(name string) bool {
	_, err := ParseDescriptor(name)
	return err == nil
}

func (d Descriptor) String() string {
	switch d.Kind {
	case DescriptorMagnet:
		return d.Magnet
	case DescriptorTorrentFile:
		return d.Torrent
	case DescriptorInfoHash:
		return string(d.InfoHash)
	}
	return ""
}

// Encode returns the URI-safe form of d.
func (d Descriptor) Encode() string {
	return EncodedPrefix + base64.RawURLEncoding.EncodeToString([]byte(d.String()))
}

// MagnetURI builds a magnet link for an info-hash descriptor, announcing to
// the given trackers.
func (d Descriptor) MagnetURI(trackers []string) string {
	if d.Kind == DescriptorMagnet {
		return d.Magnet
	}
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(string(d.InfoHash))
	for _, tr := range trackers {
		tr = strings.TrimSpace(tr)
		if tr == "" {
			continue
		}
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(tr))
	}
	return b.String()
}

func isHexInfoHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
