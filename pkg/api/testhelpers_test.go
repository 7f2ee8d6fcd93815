package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/google/uuid"

	"github.com/hexagonlabs/roster/pkg/apperrors"
	"github.com/hexagonlabs/roster/pkg/authz"
	"github.com/hexagonlabs/roster/pkg/identity"
	"github.com/hexagonlabs/roster/pkg/observability"
	"github.com/hexagonlabs/roster/pkg/orgs"
)

// fakeIdentity is an in-memory identity store keyed by username and token
type fakeIdentity struct {
	mu     sync.Mutex
	users  map[string]*identity.User
	tokens map[string]*identity.User
	nextID int
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		users:  make(map[string]*identity.User),
		tokens: make(map[string]*identity.User),
	}
}

func (f *fakeIdentity) addUser(username string, superuser bool) (*identity.User, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	user := &identity.User{
		ID:          uuid.New(),
		Username:    username,
		Email:       username + "@example.com",
		IsSuperuser: superuser,
		IsActive:    true,
	}
	token := fmt.Sprintf("roster_testtoken%d", f.nextID)
	f.users[username] = user
	f.tokens[token] = user
	return user, token
}

func (f *fakeIdentity) Register(_ context.Context, req identity.RegisterRequest) (*identity.User, string, error) {
	f.mu.Lock()
	if _, ok := f.users[req.Username]; ok {
		f.mu.Unlock()
		return nil, "", apperrors.Conflict("username already exists")
	}
	f.mu.Unlock()
	user, token := f.addUser(req.Username, false)
	return user, token, nil
}

func (f *fakeIdentity) Authenticate(_ context.Context, username, password string) (*identity.User, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[username]
	if !ok || password != "sup3rsecret" {
		return nil, "", apperrors.Unauthenticated("invalid credentials")
	}
	token := fmt.Sprintf("roster_testtoken-%s", username)
	f.tokens[token] = user
	return user, token, nil
}

func (f *fakeIdentity) VerifyToken(_ context.Context, token string) (*identity.AuthContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.tokens[token]
	if !ok {
		return nil, apperrors.Unauthenticated("invalid or unknown token")
	}
	return &identity.AuthContext{User: user, Token: &identity.APIToken{ID: uuid.New(), UserID: user.ID, TokenHash: "hash:" + token}}, nil
}

func (f *fakeIdentity) RevokeToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[token]; !ok {
		return apperrors.NotFound("token not found or already revoked")
	}
	delete(f.tokens, token)
	return nil
}

func (f *fakeIdentity) RevokeTokenByHash(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for token := range f.tokens {
		if "hash:"+token == tokenHash {
			delete(f.tokens, token)
			return nil
		}
	}
	return apperrors.NotFound("token not found or already revoked")
}

func (f *fakeIdentity) GetByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, apperrors.NotFound("user not found")
}

func (f *fakeIdentity) GetByUsername(_ context.Context, username string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[username]; ok {
		return u, nil
	}
	return nil, apperrors.NotFound("user not found")
}

func (f *fakeIdentity) ListUsers(_ context.Context) ([]*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*identity.User
	for _, u := range f.users {
		result = append(result, u)
	}
	return result, nil
}

func (f *fakeIdentity) UpdateProfile(_ context.Context, userID uuid.UUID, req identity.UpdateProfileRequest) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID != userID {
			continue
		}
		if req.FirstName != nil {
			u.FirstName = *req.FirstName
		}
		if req.LastName != nil {
			u.LastName = *req.LastName
		}
		if req.PhoneNumber != nil {
			u.PhoneNumber = *req.PhoneNumber
		}
		if req.ProfileImage != nil {
			u.ProfileImage = *req.ProfileImage
		}
		return u, nil
	}
	return nil, apperrors.NotFound("user not found")
}

func (f *fakeIdentity) PurgeExpiredTokens(_ context.Context) (int64, error) {
	return 0, nil
}

// fakeOrgs is an in-memory ledger and directory with the same guardrails
// as the real one
type fakeOrgs struct {
	mu          sync.Mutex
	orgsByID    map[uuid.UUID]*orgs.Organisation
	memberships map[uuid.UUID]map[uuid.UUID]*orgs.Membership // orgID -> userID
	usernames   map[uuid.UUID]string
}

func newFakeOrgs() *fakeOrgs {
	return &fakeOrgs{
		orgsByID:    make(map[uuid.UUID]*orgs.Organisation),
		memberships: make(map[uuid.UUID]map[uuid.UUID]*orgs.Membership),
		usernames:   make(map[uuid.UUID]string),
	}
}

func (f *fakeOrgs) Create(_ context.Context, req orgs.CreateOrgRequest, creatorID uuid.UUID) (*orgs.Organisation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orgsByID {
		if o.Slug == req.Slug {
			return nil, apperrors.Conflict("organisation with this slug already exists")
		}
	}
	org := &orgs.Organisation{
		ID:          uuid.New(),
		Name:        req.Name,
		Slug:        req.Slug,
		IsActive:    true,
		IsPublic:    req.IsPublic,
		CreatedBy:   &creatorID,
		MemberCount: 1,
	}
	f.orgsByID[org.ID] = org
	f.memberships[org.ID] = map[uuid.UUID]*orgs.Membership{
		creatorID: {ID: uuid.New(), OrganisationID: org.ID, UserID: creatorID, IsOrgAdmin: true, Username: f.usernames[creatorID]},
	}
	return org, nil
}

func (f *fakeOrgs) GetByID(_ context.Context, id uuid.UUID) (*orgs.Organisation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orgsByID[id]; ok {
		return o, nil
	}
	return nil, apperrors.NotFound("organisation not found")
}

func (f *fakeOrgs) GetBySlug(_ context.Context, slug string) (*orgs.Organisation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orgsByID {
		if o.Slug == slug {
			return o, nil
		}
	}
	return nil, apperrors.NotFound("organisation not found")
}

func (f *fakeOrgs) Update(_ context.Context, id uuid.UUID, req orgs.UpdateOrgRequest) (*orgs.Organisation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	org, ok := f.orgsByID[id]
	if !ok {
		return nil, apperrors.NotFound("organisation not found")
	}
	if req.Slug != nil {
		for _, o := range f.orgsByID {
			if o.ID != id && o.Slug == *req.Slug {
				return nil, apperrors.Conflict("organisation with this slug already exists")
			}
		}
		org.Slug = *req.Slug
	}
	if req.Name != nil {
		org.Name = *req.Name
	}
	if req.IsActive != nil {
		org.IsActive = *req.IsActive
	}
	if req.IsPublic != nil {
		org.IsPublic = *req.IsPublic
	}
	return org, nil
}

func (f *fakeOrgs) ListForUser(_ context.Context, userID uuid.UUID) ([]*orgs.Organisation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*orgs.Organisation
	for orgID, members := range f.memberships {
		if _, ok := members[userID]; ok {
			result = append(result, f.orgsByID[orgID])
		}
	}
	return result, nil
}

func (f *fakeOrgs) AddMember(_ context.Context, orgID, userID uuid.UUID, isAdmin bool) (*orgs.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.memberships[orgID]
	if !ok {
		return nil, apperrors.NotFound("organisation not found")
	}
	if _, exists := members[userID]; exists {
		return nil, apperrors.Conflict("user is already a member of this organisation")
	}
	m := &orgs.Membership{ID: uuid.New(), OrganisationID: orgID, UserID: userID, IsOrgAdmin: isAdmin, Username: f.usernames[userID]}
	members[userID] = m
	return m, nil
}

func (f *fakeOrgs) SetAdminFlag(_ context.Context, orgID, userID uuid.UUID, isAdmin bool) (*orgs.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.membershipLocked(orgID, userID)
	if err != nil {
		return nil, err
	}
	if m.IsOrgAdmin && !isAdmin && f.countAdminsLocked(orgID) <= 1 {
		return nil, apperrors.InvariantViolation("organisation must retain at least one admin")
	}
	m.IsOrgAdmin = isAdmin
	return m, nil
}

func (f *fakeOrgs) RemoveMember(_ context.Context, orgID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.membershipLocked(orgID, userID)
	if err != nil {
		return err
	}
	if m.IsOrgAdmin && f.countAdminsLocked(orgID) <= 1 {
		return apperrors.InvariantViolation("organisation must retain at least one admin")
	}
	delete(f.memberships[orgID], userID)
	return nil
}

func (f *fakeOrgs) GetMembership(_ context.Context, orgID, userID uuid.UUID) (*orgs.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.membershipLocked(orgID, userID)
}

func (f *fakeOrgs) ListMembers(_ context.Context, orgID uuid.UUID) ([]*orgs.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*orgs.Membership
	for _, m := range f.memberships[orgID] {
		result = append(result, m)
	}
	return result, nil
}

func (f *fakeOrgs) ListUserMemberships(_ context.Context, userID uuid.UUID) ([]*orgs.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*orgs.Membership
	for _, members := range f.memberships {
		if m, ok := members[userID]; ok {
			result = append(result, m)
		}
	}
	return result, nil
}

func (f *fakeOrgs) IsOrgAdmin(_ context.Context, orgID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.memberships[orgID][userID]; ok {
		return m.IsOrgAdmin, nil
	}
	return false, nil
}

func (f *fakeOrgs) IsMember(_ context.Context, orgID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.memberships[orgID][userID]
	return ok, nil
}

func (f *fakeOrgs) CountAdmins(_ context.Context, orgID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countAdminsLocked(orgID), nil
}

func (f *fakeOrgs) membershipLocked(orgID, userID uuid.UUID) (*orgs.Membership, error) {
	if m, ok := f.memberships[orgID][userID]; ok {
		return m, nil
	}
	return nil, apperrors.NotFound("membership not found")
}

func (f *fakeOrgs) countAdminsLocked(orgID uuid.UUID) int {
	count := 0
	for _, m := range f.memberships[orgID] {
		if m.IsOrgAdmin {
			count++
		}
	}
	return count
}

// testEnv wires an httptest server over the fakes
type testEnv struct {
	server   *Server
	identity *fakeIdentity
	orgs     *fakeOrgs
}

func newTestEnv() *testEnv {
	identitySvc := newFakeIdentity()
	orgSvc := newFakeOrgs()
	resolver := authz.NewResolver(orgSvc)
	gateway := NewGateway(identitySvc, orgSvc, resolver)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	server := NewServer(gateway, identitySvc, logger, ServerConfig{
		AllowedOrigins: []string{"*"},
	})

	return &testEnv{server: server, identity: identitySvc, orgs: orgSvc}
}

func (e *testEnv) addUser(username string, superuser bool) (*identity.User, string) {
	user, token := e.identity.addUser(username, superuser)
	e.orgs.mu.Lock()
	e.orgs.usernames[user.ID] = username
	e.orgs.mu.Unlock()
	return user, token
}

func (e *testEnv) do(method, path, token string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

var _ identity.Service = (*fakeIdentity)(nil)
var _ orgs.Service = (*fakeOrgs)(nil)
var _ http.Handler = (*Server)(nil)
