package services

import (
	"context"
	"testing"
	"time"

	"github.com/lukateg/starter-kit/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// projectWithMembers creates a project owned by "owner" with extra members
// so it holds n members in total.
func projectWithMembers(t *testing.T, f *fixture, n int) (Identity, *models.Project) {
	t.Helper()
	owner := f.user(t, "owner")
	p := f.project(t, owner, "Apollo")
	for i := 1; i < n; i++ {
		f.addMember(t, owner, p.ID, f.user(t, "member"+string(rune('a'+i))))
	}
	return owner, p
}

func memberCount(t *testing.T, f *fixture, projectID uint) int {
	t.Helper()
	n, err := f.memberships.MemberCount(context.Background(), projectID)
	require.NoError(t, err)
	return n
}

func TestInvitation_EmailInviteAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, p := projectWithMembers(t, f, 5)
	bob := f.user(t, "bob")

	inv, err := f.invitations.CreateEmailInvite(ctx, owner, p.ID, "Bob@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", inv.Email)
	assert.Equal(t, models.InvitationPending, inv.Status)
	require.NotNil(t, inv.ExpiresAt)
	assert.Equal(t, f.now.Add(7*24*time.Hour), *inv.ExpiresAt)
	assert.Equal(t, "https://app.example.com/invite/accept?token="+inv.Token, inv.AcceptURL)

	emails := f.effects.ofKind(EffectInvitationEmail)
	require.NotEmpty(t, emails)
	last := emails[len(emails)-1]
	assert.Equal(t, "bob@example.com", last.Email)
	assert.Equal(t, inv.AcceptURL, last.Payload["accept_url"])

	res, err := f.invitations.Accept(ctx, bob, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, p.ID, res.ProjectID)
	assert.Equal(t, models.RoleMember, res.Role)
	assert.False(t, res.AlreadyMember)

	assert.Equal(t, 6, memberCount(t, f, p.ID))
	stored := f.invitation(t, inv.ID)
	assert.Equal(t, models.InvitationAccepted, stored.Status)
	require.NotNil(t, stored.AcceptedBy)
	assert.Equal(t, bob.SubjectID, *stored.AcceptedBy)
	assert.NotNil(t, stored.AcceptedAt)

	m, err := f.memberships.GetMembership(ctx, p.ID, bob.SubjectID)
	require.NoError(t, err)
	require.NotNil(t, m.InvitedBy)
	assert.Equal(t, owner.SubjectID, *m.InvitedBy)

	accepted := f.effects.ofKind(EffectInvitationAccepted)
	require.NotEmpty(t, accepted)
	assert.Equal(t, owner.SubjectID, accepted[len(accepted)-1].UserID)
}

func TestInvitation_LastSlotTakenFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, p := projectWithMembers(t, f, 5)
	bob := f.user(t, "bob")
	carol := f.user(t, "carol")

	bobInv, err := f.invitations.CreateEmailInvite(ctx, owner, p.ID, bob.Email)
	require.NoError(t, err)
	carolInv, err := f.invitations.CreateEmailInvite(ctx, owner, p.ID, carol.Email)
	require.NoError(t, err)

	_, err = f.invitations.Accept(ctx, carol, carolInv.Token)
	require.NoError(t, err)
	assert.Equal(t, 6, memberCount(t, f, p.ID))

	_, err = f.invitations.Accept(ctx, bob, bobInv.Token)
	assert.Equal(t, CodeProjectFull, CodeOf(err))
	assert.Equal(t, KindValidation, KindOf(err))

	assert.Equal(t, 6, memberCount(t, f, p.ID))
	assert.Equal(t, models.InvitationPending, f.invitation(t, bobInv.ID).Status)
}

func TestInvitation_ExpiredBySweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	bob := f.user(t, "bob")
	p := f.project(t, owner, "Apollo")

	inv, err := f.invitations.CreateEmailInvite(ctx, owner, p.ID, bob.Email)
	require.NoError(t, err)

	f.now = f.now.Add(8 * 24 * time.Hour)
	n, err := f.sweep.RunDailyExpirationSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.InvitationExpired, f.invitation(t, inv.ID).Status)
	assert.Nil(t, f.invitation(t, inv.ID).PendingKey)

	_, err = f.invitations.Accept(ctx, bob, inv.Token)
	assert.Equal(t, CodeExpired, CodeOf(err))
	assert.Equal(t, models.InvitationExpired, f.invitation(t, inv.ID).Status)
	assert.Equal(t, 1, memberCount(t, f, p.ID))
}

func TestInvitation_AcceptPastExpiryBeforeSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	bob := f.user(t, "bob")
	p := f.project(t, owner, "Apollo")

	inv, err := f.invitations.CreateEmailInvite(ctx, owner, p.ID, bob.Email)
	require.NoError(t, err)

	f.now = f.now.Add(7*24*time.Hour + time.Second)
	_, err = f.invitations.Accept(ctx, bob, inv.Token)
	assert.Equal(t, CodeExpired, CodeOf(err))

	preview, err := f.invitations.Preview(ctx, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationExpired, preview.Status)
	assert.Equal(t, "Apollo", preview.ProjectName)
}

func TestInvitation_AcceptValidationOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	bob := f.user(t, "bob")
	eve := f.user(t, "eve")
	p := f.project(t, owner, "Apollo")

	_, err := f.invitations.Accept(ctx, bob, "no-such-token")
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Equal(t, KindNotFound, KindOf(err))

	inv, err := f.invitations.CreateEmailInvite(ctx, owner, p.ID, bob.Email)
	require.NoError(t, err)

	// Expired is reported before the email mismatch.
	f.now = f.now.Add(8 * 24 * time.Hour)
	_, err = f.invitations.Accept(ctx, eve, inv.Token)
	assert.Equal(t, CodeExpired, CodeOf(err))

	f.now = f.now.Add(-8 * 24 * time.Hour)
	_, err = f.invitations.Accept(ctx, eve, inv.Token)
	assert.Equal(t, CodeEmailMismatch, CodeOf(err))

	// Revoked is reported before everything but an unknown token.
	require.NoError(t, f.invitations.Revoke(ctx, owner, p.ID, inv.ID))
	_, err = f.invitations.Accept(ctx, bob, inv.Token)
	assert.Equal(t, CodeRevoked, CodeOf(err))
}

func TestInvitation_AcceptByExistingMemberIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	p := f.project(t, owner, "Apollo")

	link, err := f.invitations.GetOrCreateLinkInvite(ctx, owner, p.ID)
	require.NoError(t, err)

	res, err := f.invitations.Accept(ctx, owner, link.Token)
	require.NoError(t, err)
	assert.True(t, res.AlreadyMember)
	assert.Equal(t, models.RoleOwner, res.Role)
	assert.Equal(t, models.InvitationPending, f.invitation(t, link.ID).Status)
	assert.Equal(t, 1, memberCount(t, f, p.ID))
}

func TestInvitation_RepeatedAcceptBySameUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	bob := f.user(t, "bob")
	eve := f.user(t, "eve")
	p := f.project(t, owner, "Apollo")

	inv, err := f.invitations.CreateEmailInvite(ctx, owner, p.ID, bob.Email)
	require.NoError(t, err)
	_, err = f.invitations.Accept(ctx, bob, inv.Token)
	require.NoError(t, err)

	res, err := f.invitations.Accept(ctx, bob, inv.Token)
	require.NoError(t, err)
	assert.True(t, res.AlreadyMember)

	_, err = f.invitations.Accept(ctx, eve, inv.Token)
	assert.Equal(t, CodeExpired, CodeOf(err))
	assert.Equal(t, 2, memberCount(t, f, p.ID))
}

func TestInvitation_LinkInvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	bob := f.user(t, "bob")
	eve := f.user(t, "eve")
	p := f.project(t, owner, "Apollo")

	link, err := f.invitations.GetOrCreateLinkInvite(ctx, owner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationTypeLink, link.Type)
	assert.Nil(t, link.ExpiresAt)
	assert.Len(t, link.Token, 64)

	again, err := f.invitations.GetOrCreateLinkInvite(ctx, owner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, link.ID, again.ID)

	// Any signed-in user may redeem a link; it is single use.
	_, err = f.invitations.Accept(ctx, bob, link.Token)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationAccepted, f.invitation(t, link.ID).Status)

	// A second visitor of the accepted link is told it expired; the owner
	// has to share a new one.
	_, err = f.invitations.Accept(ctx, eve, link.Token)
	assert.Equal(t, CodeExpired, CodeOf(err))
	assert.Equal(t, 2, memberCount(t, f, p.ID))

	fresh, err := f.invitations.GetOrCreateLinkInvite(ctx, owner, p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, link.ID, fresh.ID)
	assert.NotEqual(t, link.Token, fresh.Token)

	_, err = f.invitations.Accept(ctx, eve, fresh.Token)
	require.NoError(t, err)
	assert.Equal(t, 3, memberCount(t, f, p.ID))
}

func TestInvitation_RegenerateLinkRevokesOld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	bob := f.user(t, "bob")
	p := f.project(t, owner, "Apollo")

	old, err := f.invitations.GetOrCreateLinkInvite(ctx, owner, p.ID)
	require.NoError(t, err)

	fresh, err := f.invitations.RegenerateLinkInvite(ctx, owner, p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, old.Token, fresh.Token)
	assert.Equal(t, models.InvitationRevoked, f.invitation(t, old.ID).Status)

	_, err = f.invitations.Accept(ctx, bob, old.Token)
	assert.Equal(t, CodeRevoked, CodeOf(err))

	_, err = f.invitations.Accept(ctx, bob, fresh.Token)
	assert.NoError(t, err)
}

func TestInvitation_CreateEmailInviteRules(t *testing.T) {
	f := newFixture(t)
	f.cfg.Team.MaxMembers = 2
	ctx := context.Background()
	owner := f.user(t, "owner")
	bob := f.user(t, "bob")
	p := f.project(t, owner, "Apollo")

	_, err := f.invitations.CreateEmailInvite(ctx, owner, p.ID, "not-an-email")
	assert.Equal(t, CodeInvalidInput, CodeOf(err))

	_, err = f.invitations.CreateEmailInvite(ctx, owner, p.ID, owner.Email)
	assert.Equal(t, CodeAlreadyMember, CodeOf(err))

	_, err = f.invitations.CreateEmailInvite(ctx, owner, p.ID, bob.Email)
	require.NoError(t, err)
	_, err = f.invitations.CreateEmailInvite(ctx, owner, p.ID, bob.Email)
	assert.Equal(t, CodeAlreadyPending, CodeOf(err))

	_, err = f.invitations.CreateEmailInvite(ctx, bob, p.ID, "x@example.com")
	assert.Equal(t, KindUnauthorized, KindOf(err))

	_, err = f.invitations.CreateEmailInvite(ctx, Identity{}, p.ID, "x@example.com")
	assert.Equal(t, KindUnauthenticated, KindOf(err))

	// A full project still accepts invitations; capacity is checked on accept.
	f.addMember(t, owner, p.ID, f.user(t, "carol"))
	dave := f.user(t, "dave")
	inv, err := f.invitations.CreateEmailInvite(ctx, owner, p.ID, dave.Email)
	require.NoError(t, err)
	_, err = f.invitations.Accept(ctx, dave, inv.Token)
	assert.Equal(t, CodeProjectFull, CodeOf(err))
	assert.Equal(t, models.InvitationPending, f.invitation(t, inv.ID).Status)
}

func TestInvitation_StalePendingReplacedOnReinvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	bob := f.user(t, "bob")
	p := f.project(t, owner, "Apollo")

	first, err := f.invitations.CreateEmailInvite(ctx, owner, p.ID, bob.Email)
	require.NoError(t, err)

	f.now = f.now.Add(8 * 24 * time.Hour)
	second, err := f.invitations.CreateEmailInvite(ctx, owner, p.ID, bob.Email)
	require.NoError(t, err)

	assert.Equal(t, models.InvitationExpired, f.invitation(t, first.ID).Status)
	assert.Equal(t, models.InvitationPending, f.invitation(t, second.ID).Status)
}

func TestInvitation_RevokeOnlyPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	bob := f.user(t, "bob")
	p := f.project(t, owner, "Apollo")

	inv, err := f.invitations.CreateEmailInvite(ctx, owner, p.ID, bob.Email)
	require.NoError(t, err)
	_, err = f.invitations.Accept(ctx, bob, inv.Token)
	require.NoError(t, err)

	err = f.invitations.Revoke(ctx, owner, p.ID, inv.ID)
	assert.Equal(t, CodeNotPending, CodeOf(err))
	assert.Equal(t, models.InvitationAccepted, f.invitation(t, inv.ID).Status)

	err = f.invitations.Revoke(ctx, owner, p.ID, 9999)
	assert.Equal(t, KindNotFound, KindOf(err))

	other, err := f.invitations.CreateEmailInvite(ctx, owner, p.ID, "carol@example.com")
	require.NoError(t, err)
	err = f.invitations.Revoke(ctx, bob, p.ID, other.ID)
	assert.Equal(t, KindUnauthorized, KindOf(err))
}

func TestInvitation_ListPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	bob := f.user(t, "bob")
	p := f.project(t, owner, "Apollo")
	f.addMember(t, owner, p.ID, bob)

	_, err := f.invitations.CreateEmailInvite(ctx, owner, p.ID, "carol@example.com")
	require.NoError(t, err)
	_, err = f.invitations.GetOrCreateLinkInvite(ctx, owner, p.ID)
	require.NoError(t, err)

	ownerView, err := f.invitations.ListPending(ctx, owner, p.ID)
	require.NoError(t, err)
	require.Len(t, ownerView, 2)
	for _, v := range ownerView {
		assert.NotEmpty(t, v.AcceptURL)
	}

	memberView, err := f.invitations.ListPending(ctx, bob, p.ID)
	require.NoError(t, err)
	require.Len(t, memberView, 2)
	for _, v := range memberView {
		assert.Empty(t, v.AcceptURL)
	}

	_, err = f.invitations.ListPending(ctx, f.user(t, "stranger"), p.ID)
	assert.Equal(t, KindUnauthorized, KindOf(err))
}

func TestInvitation_PreviewUnknownToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.invitations.Preview(context.Background(), "missing")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestInvitation_TerminalStatesAreFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	p := f.project(t, owner, "Apollo")

	inv, err := f.invitations.CreateEmailInvite(ctx, owner, p.ID, "bob@example.com")
	require.NoError(t, err)
	require.NoError(t, f.invitations.Revoke(ctx, owner, p.ID, inv.ID))

	f.now = f.now.Add(30 * 24 * time.Hour)
	n, err := f.sweep.RunDailyExpirationSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, models.InvitationRevoked, f.invitation(t, inv.ID).Status)
	assert.True(t, f.invitation(t, inv.ID).IsTerminal())
}

func insertPendingInvite(f *fixture, tx *gorm.DB, projectID uint, typ, email, key, token string) error {
	return tx.Exec("INSERT INTO project_invitations (project_id, type, email, token, invited_by, status, pending_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		projectID, typ, email, token, "owner", models.InvitationPending, key, f.now, f.now).Error
}

func pendingCount(t *testing.T, f *fixture, projectID uint, typ string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.ProjectInvitation{}).
		Where("project_id = ? AND type = ? AND status = ?", projectID, typ, models.InvitationPending).
		Count(&n).Error)
	return n
}

func TestInvitation_ConcurrentLinkCreateReturnsExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	p := f.project(t, owner, "Apollo")
	insertBeforeCreate(t, f.db, "project_invitations", func(tx *gorm.DB) error {
		return insertPendingInvite(f, tx, p.ID, models.InvitationTypeLink, "", models.PendingLinkKey, "other-request-token")
	})

	link, err := f.invitations.GetOrCreateLinkInvite(ctx, owner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "other-request-token", link.Token)
	assert.Equal(t, int64(1), pendingCount(t, f, p.ID, models.InvitationTypeLink))
}

func TestInvitation_ConcurrentEmailInviteIsAlreadyPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	bob := f.user(t, "bob")
	p := f.project(t, owner, "Apollo")
	insertBeforeCreate(t, f.db, "project_invitations", func(tx *gorm.DB) error {
		return insertPendingInvite(f, tx, p.ID, models.InvitationTypeEmail, bob.Email, bob.Email, "other-request-token")
	})

	_, err := f.invitations.CreateEmailInvite(ctx, owner, p.ID, bob.Email)
	assert.Equal(t, CodeAlreadyPending, CodeOf(err))
	assert.Empty(t, f.effects.ofKind(EffectInvitationEmail))
}

func TestInvitation_PendingKeyUnique(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	p := f.project(t, owner, "Apollo")

	require.NoError(t, insertPendingInvite(f, f.db, p.ID, models.InvitationTypeLink, "", models.PendingLinkKey, "token-a"))
	err := insertPendingInvite(f, f.db, p.ID, models.InvitationTypeLink, "", models.PendingLinkKey, "token-b")
	assert.Error(t, err)

	other := f.project(t, owner, "Gemini")
	assert.NoError(t, insertPendingInvite(f, f.db, other.ID, models.InvitationTypeLink, "", models.PendingLinkKey, "token-c"))
}

func TestInvitation_TerminalStatusFreesPendingKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	bob := f.user(t, "bob")
	p := f.project(t, owner, "Apollo")

	first, err := f.invitations.CreateEmailInvite(ctx, owner, p.ID, bob.Email)
	require.NoError(t, err)
	require.NotNil(t, f.invitation(t, first.ID).PendingKey)
	require.NoError(t, f.invitations.Revoke(ctx, owner, p.ID, first.ID))
	assert.Nil(t, f.invitation(t, first.ID).PendingKey)

	second, err := f.invitations.CreateEmailInvite(ctx, owner, p.ID, bob.Email)
	require.NoError(t, err)
	_, err = f.invitations.Accept(ctx, bob, second.Token)
	require.NoError(t, err)
	assert.Nil(t, f.invitation(t, second.ID).PendingKey)

	link, err := f.invitations.GetOrCreateLinkInvite(ctx, owner, p.ID)
	require.NoError(t, err)
	fresh, err := f.invitations.RegenerateLinkInvite(ctx, owner, p.ID)
	require.NoError(t, err)
	assert.Nil(t, f.invitation(t, link.ID).PendingKey)
	assert.Equal(t, models.PendingLinkKey, *f.invitation(t, fresh.ID).PendingKey)
}
