package group_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/scionproto/scion/pkg/scrypto/cppki"

	"github.com/fancl20/e2ei/pkg/credential"
	"github.com/fancl20/e2ei/pkg/group"
	"github.com/fancl20/e2ei/pkg/pki"
)

type member struct {
	node *group.LeafNode
	key  ed25519.PrivateKey
}

func basicMember(t *testing.T, name string) member {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return member{
		node: &group.LeafNode{Credential: credential.NewBasic([]byte(name)), SignatureKey: pub},
		key:  priv,
	}
}

func x509Member(t *testing.T, ca *pki.Authority, handle string) member {
	t.Helper()
	now := time.Now()
	leaf, key, err := ca.IssueLeaf(pki.LeafParams{
		ClientID: handle + "!1", Handle: handle, Domain: "wire.example",
		DisplayName: handle,
		Validity:    cppki.Validity{NotBefore: now.Add(-time.Hour), NotAfter: now.Add(time.Hour)},
	})
	require.NoError(t, err)
	return member{
		node: &group.LeafNode{
			Credential:   credential.NewX509(leaf.Raw),
			SignatureKey: key.Public().(ed25519.PublicKey),
		},
		key: key,
	}
}

func newCA(t *testing.T) *pki.Authority {
	t.Helper()
	now := time.Now()
	ca, err := pki.NewRootAuthority("Group Test Root",
		cppki.Validity{NotBefore: now.Add(-time.Hour), NotAfter: now.Add(time.Hour)})
	require.NoError(t, err)
	return ca
}

func descriptor(nodes ...*group.LeafNode) *group.Descriptor {
	return &group.Descriptor{
		GroupID:     []byte("conversation-1"),
		Epoch:       7,
		Ciphersuite: credential.MLS128DHKEMX25519AES128GCMSHA256Ed25519,
		Nodes:       nodes,
	}
}

// signRaw wraps an arbitrary tbs as a signed descriptor.
func signRaw(tbs []byte, key ed25519.PrivateKey) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, tbs)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, ed25519.Sign(key, tbs))
	return b
}

func TestEncodeParse(t *testing.T) {
	ca := newCA(t)
	alice, bob := x509Member(t, ca, "alice"), basicMember(t, "bob")
	d := descriptor(alice.node, nil, bob.node)
	d.SignerIndex = 2

	raw, err := group.Encode(d, bob.key)
	require.NoError(t, err)

	for _, hardened := range []bool{false, true} {
		got, err := group.DefaultParser{}.Parse(context.Background(), raw, hardened)
		require.NoError(t, err, "hardened=%v", hardened)
		if diff := cmp.Diff(d, got); diff != "" {
			t.Errorf("descriptor mismatch (-want +got):\n%s", diff)
		}
	}

	creds := d.Credentials()
	require.Len(t, creds, 2)
	assert.Equal(t, credential.X509, creds[0].Type)
	assert.Equal(t, credential.Basic, creds[1].Type)
}

func TestParseAuthentication(t *testing.T) {
	alice, bob := basicMember(t, "alice"), basicMember(t, "bob")

	t.Run("tampered", func(t *testing.T) {
		raw, err := group.Encode(descriptor(alice.node, bob.node), alice.key)
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0xff
		_, err = group.Parse(raw, false)
		assert.ErrorIs(t, err, group.ErrUnauthenticated)
	})
	t.Run("wrong signer", func(t *testing.T) {
		raw, err := group.Encode(descriptor(alice.node, bob.node), bob.key)
		require.NoError(t, err)
		_, err = group.Parse(raw, false)
		assert.ErrorIs(t, err, group.ErrUnauthenticated)
	})
	t.Run("signer out of range", func(t *testing.T) {
		d := descriptor(alice.node)
		d.SignerIndex = 3
		raw, err := group.Encode(d, alice.key)
		require.NoError(t, err)
		_, err = group.Parse(raw, false)
		assert.ErrorIs(t, err, group.ErrUnauthenticated)
	})
	t.Run("blank signer", func(t *testing.T) {
		d := descriptor(nil, alice.node)
		raw, err := group.Encode(d, alice.key)
		require.NoError(t, err)
		_, err = group.Parse(raw, true)
		assert.ErrorIs(t, err, group.ErrUnauthenticated)
	})
	t.Run("empty tree", func(t *testing.T) {
		raw, err := group.Encode(descriptor(), alice.key)
		require.NoError(t, err)
		_, err = group.Parse(raw, true)
		assert.Error(t, err)
	})
	t.Run("garbage", func(t *testing.T) {
		_, err := group.Parse([]byte{0xff, 0xff, 0xff}, false)
		assert.ErrorIs(t, err, group.ErrMalformed)
		_, err = group.Parse(nil, false)
		assert.ErrorIs(t, err, group.ErrMalformed)
	})
	t.Run("invalid wire type", func(t *testing.T) {
		// 'g' decodes as field 12 with the invalid wire type 7.
		for _, hardened := range []bool{false, true} {
			_, err := group.Parse([]byte("garbage"), hardened)
			assert.ErrorIs(t, err, group.ErrMalformed, "hardened=%t", hardened)
			assert.NotErrorIs(t, err, group.ErrRejected, "hardened=%t", hardened)
		}
	})
}

func TestParseHardened(t *testing.T) {
	ca := newCA(t)
	alice, bob := x509Member(t, ca, "alice"), basicMember(t, "bob")

	testCases := map[string]func(t *testing.T) []byte{
		"unknown ciphersuite": func(t *testing.T) []byte {
			d := descriptor(alice.node, bob.node)
			d.Ciphersuite = 0x1234
			raw, err := group.Encode(d, alice.key)
			require.NoError(t, err)
			return raw
		},
		"trailing blank": func(t *testing.T) []byte {
			raw, err := group.Encode(descriptor(alice.node, bob.node, nil), alice.key)
			require.NoError(t, err)
			return raw
		},
		"duplicate signature key": func(t *testing.T) []byte {
			dup := &group.LeafNode{
				Credential:   credential.NewBasic([]byte("mallory")),
				SignatureKey: alice.node.SignatureKey,
			}
			raw, err := group.Encode(descriptor(alice.node, dup), alice.key)
			require.NoError(t, err)
			return raw
		},
		"certificate key mismatch": func(t *testing.T) []byte {
			mallory := basicMember(t, "mallory")
			forged := &group.LeafNode{
				Credential:   alice.node.Credential,
				SignatureKey: mallory.node.SignatureKey,
			}
			raw, err := group.Encode(descriptor(forged, bob.node), mallory.key)
			require.NoError(t, err)
			return raw
		},
		"unknown field": func(t *testing.T) []byte {
			d := descriptor(alice.node, bob.node)
			var tbs []byte
			tbs = protowire.AppendTag(tbs, 1, protowire.BytesType)
			tbs = protowire.AppendBytes(tbs, d.GroupID)
			tbs = protowire.AppendTag(tbs, 3, protowire.VarintType)
			tbs = protowire.AppendVarint(tbs, uint64(d.Ciphersuite))
			for _, n := range []*group.LeafNode{alice.node, bob.node} {
				one, err := group.Encode(&group.Descriptor{Nodes: []*group.LeafNode{n}}, alice.key)
				require.NoError(t, err)
				leaf := extractFirstNode(t, one)
				tbs = protowire.AppendTag(tbs, 4, protowire.BytesType)
				tbs = protowire.AppendBytes(tbs, leaf)
			}
			tbs = protowire.AppendTag(tbs, 99, protowire.VarintType)
			tbs = protowire.AppendVarint(tbs, 1)
			return signRaw(tbs, alice.key)
		},
	}
	for name, build := range testCases {
		t.Run(name, func(t *testing.T) {
			raw := build(t)
			_, err := group.Parse(raw, false)
			assert.NoError(t, err, "lenient mode must accept")
			_, err = group.Parse(raw, true)
			assert.ErrorIs(t, err, group.ErrRejected)
		})
	}
}

// extractFirstNode returns the encoded first node of a signed descriptor.
func extractFirstNode(t *testing.T, signed []byte) []byte {
	t.Helper()
	_, _, n := protowire.ConsumeTag(signed)
	require.Greater(t, n, 0)
	tbs, m := protowire.ConsumeBytes(signed[n:])
	require.Greater(t, m, 0)
	for len(tbs) > 0 {
		num, typ, n := protowire.ConsumeTag(tbs)
		require.Greater(t, n, 0)
		tbs = tbs[n:]
		if num == 4 {
			v, _ := protowire.ConsumeBytes(tbs)
			return v
		}
		m := protowire.ConsumeFieldValue(num, typ, tbs)
		require.Greater(t, m, 0)
		tbs = tbs[m:]
	}
	t.Fatal("no node found")
	return nil
}
