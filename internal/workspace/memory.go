package workspace

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/districtscouts/roster/pkg/errors"
)

// Mutation records a write made against a MemoryDirectory.
type Mutation struct {
	Kind   string
	Group  string
	Member string
	Detail string
}

// MemoryDirectory is an in-memory Directory. Listings are paged through CollectPages so callers
// observe the same contract as the live client.
type MemoryDirectory struct {
	mu sync.Mutex

	users    []AccountInfo
	groups   []GroupInfo
	members  map[string][]MemberInfo
	settings map[string]GroupSettings

	pageSize  int
	mutations []Mutation
}

// NewMemoryDirectory returns a directory seeded with users and groups.
func NewMemoryDirectory(users []AccountInfo, groups []GroupInfo) *MemoryDirectory {
	return &MemoryDirectory{
		users:    append([]AccountInfo(nil), users...),
		groups:   append([]GroupInfo(nil), groups...),
		members:  make(map[string][]MemberInfo),
		settings: make(map[string]GroupSettings),
		pageSize: 2,
	}
}

// SetMembers replaces the members of groupKey.
func (m *MemoryDirectory) SetMembers(groupKey string, members ...MemberInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[NormaliseEmail(groupKey)] = append([]MemberInfo(nil), members...)
}

// SetSettings replaces the settings of groupKey.
func (m *MemoryDirectory) SetSettings(groupKey string, settings GroupSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[NormaliseEmail(groupKey)] = settings
}

// Mutations returns the writes applied so far.
func (m *MemoryDirectory) Mutations() []Mutation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Mutation(nil), m.mutations...)
}

func pageOf[T any](items []T, token string, size int) (Page[T], error) {
	start := 0
	if token != "" {
		parsed, err := strconv.Atoi(token)
		if err != nil || parsed < 0 || parsed > len(items) {
			return Page[T]{}, fmt.Errorf("memory directory: bad page token %q", token)
		}
		start = parsed
	}
	end := start + size
	if end >= len(items) {
		return Page[T]{Items: items[start:]}, nil
	}
	return Page[T]{Items: items[start:end], NextToken: strconv.Itoa(end)}, nil
}

func (m *MemoryDirectory) ListUsers(ctx context.Context) ([]AccountInfo, error) {
	m.mu.Lock()
	users := append([]AccountInfo(nil), m.users...)
	m.mu.Unlock()

	return CollectPages(ctx, func(_ context.Context, token string) (Page[AccountInfo], error) {
		return pageOf(users, token, m.pageSize)
	})
}

func (m *MemoryDirectory) ListGroups(ctx context.Context) ([]GroupInfo, error) {
	m.mu.Lock()
	groups := append([]GroupInfo(nil), m.groups...)
	m.mu.Unlock()

	return CollectPages(ctx, func(_ context.Context, token string) (Page[GroupInfo], error) {
		return pageOf(groups, token, m.pageSize)
	})
}

func (m *MemoryDirectory) ListMembers(ctx context.Context, groupKey string) ([]MemberInfo, error) {
	m.mu.Lock()
	if _, ok := m.groupIndex(groupKey); !ok {
		m.mu.Unlock()
		return nil, groupNotFound(groupKey)
	}
	members := append([]MemberInfo(nil), m.members[NormaliseEmail(groupKey)]...)
	m.mu.Unlock()

	return CollectPages(ctx, func(_ context.Context, token string) (Page[MemberInfo], error) {
		return pageOf(members, token, m.pageSize)
	})
}

func (m *MemoryDirectory) InsertGroup(_ context.Context, group GroupInfo) (GroupInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.groupIndex(group.Email); exists {
		return GroupInfo{}, apperrors.ErrExternal.Withf("group %s already exists", group.Email)
	}
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	group.AdminCreated = true
	m.groups = append(m.groups, group)
	m.record("insert_group", group.Email, "", group.Name)
	return group, nil
}

func (m *MemoryDirectory) PatchGroup(_ context.Context, groupKey, name, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.groupIndex(groupKey)
	if !ok {
		return groupNotFound(groupKey)
	}
	m.groups[idx].Name = name
	m.groups[idx].Description = description
	m.record("patch_group", groupKey, "", name)
	return nil
}

func (m *MemoryDirectory) GetGroupSettings(_ context.Context, groupKey string) (GroupSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groupIndex(groupKey); !ok {
		return GroupSettings{}, groupNotFound(groupKey)
	}
	return m.settings[NormaliseEmail(groupKey)], nil
}

func (m *MemoryDirectory) UpdateGroupSettings(_ context.Context, groupKey string, settings GroupSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groupIndex(groupKey); !ok {
		return groupNotFound(groupKey)
	}
	m.settings[NormaliseEmail(groupKey)] = settings
	m.record("update_group_settings", groupKey, "", settings.WhoCanPostMessage)
	return nil
}

func (m *MemoryDirectory) InsertMember(_ context.Context, groupKey, email string, role MemberRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groupIndex(groupKey); !ok {
		return groupNotFound(groupKey)
	}
	key := NormaliseEmail(groupKey)
	if m.memberIndex(key, email) >= 0 {
		return apperrors.ErrExternal.Withf("member %s already in %s", email, groupKey)
	}
	m.members[key] = append(m.members[key], MemberInfo{ID: uuid.NewString(), Email: email, Role: role, Type: "USER"})
	m.record("insert_member", groupKey, email, string(role))
	return nil
}

func (m *MemoryDirectory) UpdateMemberRole(_ context.Context, groupKey, memberKey string, role MemberRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := NormaliseEmail(groupKey)
	idx := m.memberIndex(key, memberKey)
	if idx < 0 {
		return apperrors.ErrExternal.Withf("member %s not in %s", memberKey, groupKey)
	}
	m.members[key][idx].Role = role
	m.record("update_member_role", groupKey, memberKey, string(role))
	return nil
}

func (m *MemoryDirectory) DeleteMember(_ context.Context, groupKey, memberKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := NormaliseEmail(groupKey)
	idx := m.memberIndex(key, memberKey)
	if idx < 0 {
		return apperrors.ErrExternal.Withf("member %s not in %s", memberKey, groupKey)
	}
	m.members[key] = append(m.members[key][:idx], m.members[key][idx+1:]...)
	m.record("delete_member", groupKey, memberKey, "")
	return nil
}

func (m *MemoryDirectory) groupIndex(groupKey string) (int, bool) {
	key := NormaliseEmail(groupKey)
	for i, group := range m.groups {
		if NormaliseEmail(group.Email) == key || group.ID == groupKey {
			return i, true
		}
	}
	return -1, false
}

func (m *MemoryDirectory) memberIndex(groupKey, memberKey string) int {
	key := NormaliseEmail(memberKey)
	for i, member := range m.members[groupKey] {
		if NormaliseEmail(member.Email) == key || member.ID == memberKey {
			return i
		}
	}
	return -1
}

func (m *MemoryDirectory) record(kind, group, member, detail string) {
	m.mutations = append(m.mutations, Mutation{Kind: kind, Group: group, Member: member, Detail: detail})
}

func groupNotFound(groupKey string) error {
	return apperrors.ErrExternal.Withf("group %s not found", groupKey)
}

var _ Directory = (*MemoryDirectory)(nil)
