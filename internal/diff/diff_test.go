package diff

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straznik/internal/snapshot"
)

func channel(name string, ows ...snapshot.PermissionOverwrite) *snapshot.Snapshot {
	return snapshot.Channel{ID: "c1", Name: name, Overwrites: ows}.Snapshot()
}

func TestEqualSnapshotsHaveNoChanges(t *testing.T) {
	ow := snapshot.PermissionOverwrite{ID: "r1", Kind: snapshot.SubjectRole, Allow: 1 << 10, Deny: 1 << 11}
	assert.Empty(t, Diff(channel("general", ow), channel("general", ow)))

	role := snapshot.Role{ID: "r1", Name: "Mod", Color: 5, Permissions: 7}.Snapshot()
	assert.Empty(t, Diff(role, role))
	assert.Empty(t, Diff(nil, nil))
}

func TestScalarChanges(t *testing.T) {
	before := snapshot.Role{ID: "r1", Name: "Mod", Color: 0x111111}.Snapshot()
	after := snapshot.Role{ID: "r1", Name: "Moderator", Color: 0x222222}.Snapshot()

	got := Diff(before, after)
	require.Len(t, got, 2)
	assert.Equal(t, Change{Section: SectionScalar, Kind: Changed, Attr: "name", Old: "Mod", New: "Moderator"}, got[0])
	assert.Equal(t, Change{Section: SectionScalar, Kind: Changed, Attr: "color", Old: "#111111", New: "#222222"}, got[1])
}

func TestScalarAddedRemoved(t *testing.T) {
	before := snapshot.VoiceState{UserID: "u1"}.Snapshot()
	after := snapshot.VoiceState{UserID: "u1", ChannelID: "v1"}.Snapshot()

	got := Diff(before, after)
	require.Len(t, got, 1)
	assert.Equal(t, Added, got[0].Kind)
	assert.Equal(t, "v1", got[0].New)

	got = Diff(after, before)
	require.Len(t, got, 1)
	assert.Equal(t, Removed, got[0].Kind)
	assert.Equal(t, "v1", got[0].Old)
}

func TestPermissionSetDelta(t *testing.T) {
	before := snapshot.Role{ID: "r1", Name: "x", Permissions: 1<<1 | 1<<2}.Snapshot()
	after := snapshot.Role{ID: "r1", Name: "x", Permissions: 1<<2 | 1<<3}.Snapshot()

	got := Diff(before, after)
	require.Len(t, got, 2)
	assert.Equal(t, SetAdded, got[0].Kind)
	assert.Equal(t, []string{"Administrator"}, got[0].Entries)
	assert.Equal(t, SetRemoved, got[1].Kind)
	assert.Equal(t, []string{"KickMembers"}, got[1].Entries)
}

func TestOverwriteSubjects(t *testing.T) {
	before := channel("c",
		snapshot.PermissionOverwrite{ID: "a", Kind: snapshot.SubjectRole, Allow: 1},
		snapshot.PermissionOverwrite{ID: "b", Kind: snapshot.SubjectMember, Allow: 1},
	)
	after := channel("c",
		snapshot.PermissionOverwrite{ID: "b", Kind: snapshot.SubjectMember, Allow: 1},
		snapshot.PermissionOverwrite{ID: "c", Kind: snapshot.SubjectMember},
	)

	got := Diff(before, after)
	require.Len(t, got, 2)
	assert.Equal(t, Change{Section: SectionOverwrite, Kind: OverwriteRemoved, Subject: "a", SubjectKind: snapshot.SubjectRole}, got[0])
	assert.Equal(t, Change{Section: SectionOverwrite, Kind: OverwriteAdded, Subject: "c", SubjectKind: snapshot.SubjectMember}, got[1])
}

func TestOverwriteRoundTrip(t *testing.T) {
	cases := []struct {
		name          string
		before, after snapshot.PermissionOverwrite
	}{
		{"grow allow", snapshot.PermissionOverwrite{Allow: 1 << 10}, snapshot.PermissionOverwrite{Allow: 1<<10 | 1<<11}},
		{"swap allow and deny", snapshot.PermissionOverwrite{Allow: 1 << 10, Deny: 1 << 11}, snapshot.PermissionOverwrite{Allow: 1 << 11, Deny: 1 << 10}},
		{"clear everything", snapshot.PermissionOverwrite{Allow: 1<<0 | 1<<4, Deny: 1 << 13}, snapshot.PermissionOverwrite{}},
		{"mixed", snapshot.PermissionOverwrite{Allow: 1<<1 | 1<<2 | 1<<3, Deny: 1<<20 | 1<<21}, snapshot.PermissionOverwrite{Allow: 1<<2 | 1<<5, Deny: 1<<21 | 1<<22 | 1<<23}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.before.ID, tc.before.Kind = "s", snapshot.SubjectRole
			tc.after.ID, tc.after.Kind = "s", snapshot.SubjectRole
			b, a := channel("c", tc.before), channel("c", tc.after)

			allow := b.Overwrites["s"].Allow
			deny := b.Overwrites["s"].Deny
			for _, c := range Diff(b, a) {
				switch c.Kind {
				case AllowAdded, AllowRemoved:
					allow = Apply(allow, c)
				case DenyAdded, DenyRemoved:
					deny = Apply(deny, c)
				default:
					t.Fatalf("unexpected change kind %s", c.Kind)
				}
			}
			assert.ElementsMatch(t, a.Overwrites["s"].Allow, allow)
			assert.ElementsMatch(t, a.Overwrites["s"].Deny, deny)
		})
	}
}

func TestAddOnlyDeltaIsUnion(t *testing.T) {
	before := []string{"A", "B"}
	after := []string{"A", "B", "C", "D"}
	added, removed := Delta(before, after)
	assert.Empty(t, removed)

	union := append(append([]string{}, before...), added...)
	sort.Strings(union)
	assert.Equal(t, after, union)
}

func TestDiffIsDeterministic(t *testing.T) {
	before := channel("a",
		snapshot.PermissionOverwrite{ID: "3", Kind: snapshot.SubjectRole, Allow: 1},
		snapshot.PermissionOverwrite{ID: "1", Kind: snapshot.SubjectRole, Allow: 1},
	)
	after := channel("b",
		snapshot.PermissionOverwrite{ID: "3", Kind: snapshot.SubjectRole, Deny: 1},
		snapshot.PermissionOverwrite{ID: "1", Kind: snapshot.SubjectRole, Deny: 1},
		snapshot.PermissionOverwrite{ID: "2", Kind: snapshot.SubjectMember},
	)
	first := Diff(before, after)
	for i := 0; i < 20; i++ {
		require.Equal(t, first, Diff(before, after))
	}
	require.NotEmpty(t, first)
	assert.Equal(t, SectionScalar, first[0].Section)
	var subjects []string
	for _, c := range first[1:] {
		subjects = append(subjects, c.Subject)
	}
	assert.Equal(t, []string{"1", "1", "2", "3", "3"}, subjects)
}
