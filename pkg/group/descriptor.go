// Package group parses the signed descriptors of groups that have not been
// joined yet, and provides the roster of joined conversations.
//
// A descriptor is encoded in protobuf wire format:
//
//	SignedDescriptor { 1: tbs bytes, 2: signature bytes }
//	Descriptor       { 1: group_id bytes, 2: epoch varint, 3: ciphersuite varint,
//	                   4: node bytes (repeated, empty for a blank node),
//	                   5: signer_index varint }
//	LeafNode         { 1: credential_type varint, 2: identity bytes,
//	                   3: certificate bytes (repeated), 4: signature_key bytes }
//
// The signature is an Ed25519 signature over tbs made with the signature key
// of the node at signer_index.
package group

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"errors"
	"slices"

	"github.com/scionproto/scion/pkg/private/serrors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/fancl20/e2ei/pkg/credential"
)

var (
	// ErrMalformed indicates that the descriptor could not be decoded.
	ErrMalformed = errors.New("malformed group descriptor")
	// ErrUnauthenticated indicates that the descriptor signature does not
	// verify.
	ErrUnauthenticated = errors.New("group descriptor not authenticated")
	// ErrRejected indicates that the descriptor failed a hardened mode check.
	ErrRejected = errors.New("group descriptor rejected")
)

// LeafNode is a member of the group tree.
type LeafNode struct {
	Credential   credential.Credential
	SignatureKey ed25519.PublicKey
}

// Descriptor is the authenticated content of a group descriptor.
type Descriptor struct {
	GroupID     []byte
	Epoch       uint64
	Ciphersuite credential.Ciphersuite
	// Nodes holds the tree leaves in order. A nil entry is a blank node.
	Nodes       []*LeafNode
	SignerIndex uint32
}

// Credentials returns the credentials of the non-blank leaves in tree order.
func (d *Descriptor) Credentials() []credential.Credential {
	creds := make([]credential.Credential, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		if n != nil {
			creds = append(creds, n.Credential)
		}
	}
	return creds
}

// Parser decodes and authenticates group descriptors. In hardened mode the
// descriptor is treated as coming from an untrusted sender and additional
// structural checks apply.
type Parser interface {
	Parse(ctx context.Context, raw []byte, hardened bool) (*Descriptor, error)
}

// DefaultParser implements Parser with Parse.
type DefaultParser struct{}

// Parse implements Parser.
func (DefaultParser) Parse(_ context.Context, raw []byte, hardened bool) (*Descriptor, error) {
	return Parse(raw, hardened)
}

// Encode serializes d and signs it with signer.
func Encode(d *Descriptor, signer ed25519.PrivateKey) ([]byte, error) {
	if len(signer) != ed25519.PrivateKeySize {
		return nil, serrors.New("invalid signer key", "size", len(signer))
	}
	tbs := appendDescriptor(nil, d)
	sig := ed25519.Sign(signer, tbs)

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, tbs)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, sig)
	return b, nil
}

func appendDescriptor(b []byte, d *Descriptor) []byte {
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, d.GroupID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, d.Epoch)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Ciphersuite))
	for _, n := range d.Nodes {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		if n == nil {
			b = protowire.AppendBytes(b, nil)
			continue
		}
		b = protowire.AppendBytes(b, appendLeaf(nil, n))
	}
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.SignerIndex))
	return b
}

func appendLeaf(b []byte, n *LeafNode) []byte {
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n.Credential.Type))
	if len(n.Credential.Identity) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, n.Credential.Identity)
	}
	for _, c := range n.Credential.Certificates {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, c)
	}
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, n.SignatureKey)
	return b
}

// Parse decodes raw and verifies its signature.
func Parse(raw []byte, hardened bool) (*Descriptor, error) {
	var tbs, sig []byte
	if err := walk(raw, hardened, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			tbs = v
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			sig = v
			return n, nil
		}
		return unknownField(num, typ, b, hardened)
	}); err != nil {
		return nil, err
	}
	if tbs == nil || sig == nil {
		return nil, serrors.Join(ErrMalformed, nil, "reason", "missing tbs or signature")
	}

	d, err := decodeDescriptor(tbs, hardened)
	if err != nil {
		return nil, err
	}
	if err := authenticate(d, tbs, sig); err != nil {
		return nil, err
	}
	if hardened {
		if err := harden(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func decodeDescriptor(tbs []byte, hardened bool) (*Descriptor, error) {
	d := &Descriptor{}
	err := walk(tbs, hardened, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			d.GroupID = slices.Clone(v)
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			d.Epoch = v
			return n, nil
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if v > 0xffff {
				return 0, serrors.Join(ErrMalformed, nil, "reason", "ciphersuite out of range")
			}
			d.Ciphersuite = credential.Ciphersuite(v)
			return n, nil
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			if len(v) == 0 {
				d.Nodes = append(d.Nodes, nil)
				return n, nil
			}
			leaf, err := decodeLeaf(v, hardened)
			if err != nil {
				return 0, serrors.Join(err, nil, "node", len(d.Nodes))
			}
			d.Nodes = append(d.Nodes, leaf)
			return n, nil
		case num == 5 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if v > 0xffffffff {
				return 0, serrors.Join(ErrMalformed, nil, "reason", "signer index out of range")
			}
			d.SignerIndex = uint32(v)
			return n, nil
		}
		return unknownField(num, typ, b, hardened)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func decodeLeaf(raw []byte, hardened bool) (*LeafNode, error) {
	leaf := &LeafNode{}
	err := walk(raw, hardened, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if v > 0xffff {
				return 0, serrors.Join(ErrMalformed, nil, "reason", "credential type out of range")
			}
			leaf.Credential.Type = credential.Type(v)
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			leaf.Credential.Identity = slices.Clone(v)
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			leaf.Credential.Certificates = append(leaf.Credential.Certificates, slices.Clone(v))
			return n, nil
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			leaf.SignatureKey = ed25519.PublicKey(slices.Clone(v))
			return n, nil
		}
		return unknownField(num, typ, b, hardened)
	})
	if err != nil {
		return nil, err
	}
	return leaf, nil
}

type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// walk calls f for every field of the message b. f returns the number of
// bytes of the field value it consumed, or a negative protowire error code.
func walk(b []byte, hardened bool, f fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return serrors.Join(ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := f(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return serrors.Join(ErrMalformed, protowire.ParseError(m), "field", int32(num))
		}
		b = b[m:]
	}
	return nil
}

// unknownField skips a field that is not part of the schema. Undecodable
// fields are malformed in both modes.
func unknownField(num protowire.Number, typ protowire.Type, b []byte, hardened bool) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return n, nil
	}
	if hardened {
		return 0, serrors.Join(ErrRejected, nil, "reason", "unknown field",
			"field", int32(num), "wire_type", int8(typ))
	}
	return n, nil
}

func authenticate(d *Descriptor, tbs, sig []byte) error {
	if int(d.SignerIndex) >= len(d.Nodes) || d.Nodes[d.SignerIndex] == nil {
		return serrors.Join(ErrUnauthenticated, nil,
			"reason", "signer is not a member", "signer_index", d.SignerIndex)
	}
	key := d.Nodes[d.SignerIndex].SignatureKey
	if len(key) != ed25519.PublicKeySize {
		return serrors.Join(ErrUnauthenticated, nil,
			"reason", "invalid signature key", "signer_index", d.SignerIndex)
	}
	if !ed25519.Verify(key, tbs, sig) {
		return serrors.Join(ErrUnauthenticated, nil,
			"reason", "signature mismatch", "signer_index", d.SignerIndex)
	}
	return nil
}

func harden(d *Descriptor) error {
	if !d.Ciphersuite.IsValid() {
		return serrors.Join(ErrRejected, nil, "reason", "unknown ciphersuite",
			"ciphersuite", uint16(d.Ciphersuite))
	}
	if len(d.Nodes) == 0 {
		return serrors.Join(ErrRejected, nil, "reason", "empty tree")
	}
	if d.Nodes[len(d.Nodes)-1] == nil {
		return serrors.Join(ErrRejected, nil, "reason", "trailing blank node")
	}
	seen := make(map[string]int, len(d.Nodes))
	for i, n := range d.Nodes {
		if n == nil {
			continue
		}
		if !n.Credential.Type.IsValid() {
			return serrors.Join(ErrRejected, nil, "reason", "unknown credential type",
				"node", i, "type", uint16(n.Credential.Type))
		}
		if len(n.SignatureKey) != ed25519.PublicKeySize {
			return serrors.Join(ErrRejected, nil, "reason", "invalid signature key", "node", i)
		}
		if j, ok := seen[string(n.SignatureKey)]; ok {
			return serrors.Join(ErrRejected, nil, "reason", "duplicate signature key",
				"node", i, "first", j)
		}
		seen[string(n.SignatureKey)] = i
		if err := checkLeafKey(n); err != nil {
			return serrors.Join(err, nil, "node", i)
		}
	}
	return nil
}

// checkLeafKey rejects X509 leaves whose certificate key differs from the
// leaf signature key. An unparseable certificate is left to the verdict
// computation.
func checkLeafKey(n *LeafNode) error {
	if n.Credential.Type != credential.X509 || len(n.Credential.Certificates) == 0 {
		return nil
	}
	cert, err := x509.ParseCertificate(n.Credential.Certificates[0])
	if err != nil {
		return nil
	}
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok || !bytes.Equal(pub, n.SignatureKey) {
		return serrors.Join(ErrRejected, nil, "reason", "certificate key mismatch")
	}
	return nil
}
