package group_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fancl20/e2ei/pkg/credential"
	"github.com/fancl20/e2ei/pkg/group"
)

func TestMemoryRoster(t *testing.T) {
	ctx := context.Background()
	r := group.NewMemoryRoster()

	_, _, err := r.Members(ctx, "missing")
	assert.ErrorIs(t, err, group.ErrConversationNotFound)

	alice, bob := basicMember(t, "alice"), basicMember(t, "bob")
	d := descriptor(alice.node, nil, bob.node)
	r.Join("conv", d)

	cs, members, err := r.Members(ctx, "conv")
	require.NoError(t, err)
	assert.Equal(t, d.Ciphersuite, cs)
	assert.Equal(t, []credential.Credential{alice.node.Credential, bob.node.Credential}, members)

	// The returned slice is a copy.
	members[0] = credential.NewBasic([]byte("mallory"))
	_, again, err := r.Members(ctx, "conv")
	require.NoError(t, err)
	assert.Equal(t, alice.node.Credential, again[0])

	r.Set("conv", credential.MLS256DHKEMP384AES256GCMSHA384P384, nil)
	cs, members, err = r.Members(ctx, "conv")
	require.NoError(t, err)
	assert.Equal(t, credential.MLS256DHKEMP384AES256GCMSHA384P384, cs)
	assert.Empty(t, members)

	r.Remove("conv")
	_, _, err = r.Members(ctx, "conv")
	assert.ErrorIs(t, err, group.ErrConversationNotFound)
}
