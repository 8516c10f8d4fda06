package tls13

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
)

// keyExchangeGroup wraps crypto/ecdh's Curve so both x25519 and secp256r1
// share one code path, grounded on shu-yusa-go-tls/tls13/tls1_3_handshake.go
// (ecdh.P256()) and presen_demo.go's ecdh-based key agreement. Neither
// curve needs a dedicated third-party implementation: crypto/ecdh already
// covers both (see DESIGN.md for why golang.org/x/crypto/curve25519 is not
// separately wired in).
type keyExchangeGroup struct {
	group NamedGroup
	curve ecdh.Curve
}

var keyExchangeGroups = map[NamedGroup]*keyExchangeGroup{
	GroupX25519:    {group: GroupX25519, curve: ecdh.X25519()},
	GroupSecp256r1: {group: GroupSecp256r1, curve: ecdh.P256()},
}

// defaultGroups is the group preference order absent explicit
// configuration (spec.md §6: "default: x25519, secp256r1").
var defaultGroups = []NamedGroup{GroupX25519, GroupSecp256r1}

func groupByID(id NamedGroup) (*keyExchangeGroup, error) {
	g, ok := keyExchangeGroups[id]
	if !ok {
		return nil, fmt.Errorf("tls13: unsupported group %#04x", uint16(id))
	}
	return g, nil
}

// keyShare is a generated (or received) key-exchange contribution for one
// group.
type keyShare struct {
	group      NamedGroup
	privateKey *ecdh.PrivateKey
	publicKey  []byte
}

func generateKeyShare(g *keyExchangeGroup) (*keyShare, error) {
	priv, err := g.curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("tls13: generating key share for group %#04x: %w", uint16(g.group), err)
	}
	return &keyShare{group: g.group, privateKey: priv, publicKey: priv.PublicKey().Bytes()}, nil
}

// agree computes the ECDHE shared secret. secp256r1's shared secret is the
// X coordinate padded to 32 bytes with leading zeros preserved, which is
// exactly what crypto/ecdh.P256's ECDH already returns (spec.md §4.1).
func agree(g *keyExchangeGroup, priv *ecdh.PrivateKey, peerPublic []byte) ([]byte, error) {
	pub, err := g.curve.NewPublicKey(peerPublic)
	if err != nil {
		return nil, illegalParameterf("invalid key_share public value for group %#04x: %v", uint16(g.group), err)
	}
	shared, err := priv.ECDH(pub)
	if err != nil {
		return nil, illegalParameterf("ECDH agreement failed for group %#04x: %v", uint16(g.group), err)
	}
	return shared, nil
}
