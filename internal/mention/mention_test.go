package mention

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractPreservesFirstSeenOrder(t *testing.T) {
	require.Equal(t, []string{"bob", "alice"}, Extract("hi @bob and @alice, @bob again"))
}

func TestExtractIsIdempotent(t *testing.T) {
	content := "@ana.maria ping @dev-ops @ana.maria @x_y"
	first := Extract(content)
	require.Equal(t, []string{"ana.maria", "dev-ops", "x_y"}, first)
	require.Equal(t, first, Extract(content))
}

func TestExtractWithoutMentions(t *testing.T) {
	require.Empty(t, Extract("no mentions here, just an @ sign"))
	require.Empty(t, Extract(""))
}

func TestResolveMatchesNameEmailAndLocalPart(t *testing.T) {
	candidates := []Candidate{
		{UserID: "1", Name: "Bob", Email: "robert@example.com"},
		{UserID: "2", Name: "Alice Smith", Email: "alice@example.com"},
		{UserID: "3", Name: "carol", Email: "c.jones@example.com"},
	}

	result := Resolve([]string{"BOB", "alice", "c.jones@example.com", "nobody"}, candidates)
	require.Empty(t, result.Ambiguous)
	require.Len(t, result.Users, 3)
	require.Equal(t, "1", result.Users[0].UserID)
	require.Equal(t, "2", result.Users[1].UserID)
	require.Equal(t, "3", result.Users[2].UserID)
}

func TestResolveFirstMatchWinsAndFlagsAmbiguity(t *testing.T) {
	candidates := []Candidate{
		{UserID: "1", Name: "sam", Email: "sam.one@example.com"},
		{UserID: "2", Name: "Sam", Email: "sam@example.com"},
	}

	result := Resolve([]string{"sam"}, candidates)
	require.Len(t, result.Users, 1)
	require.Equal(t, "1", result.Users[0].UserID)
	require.Equal(t, []string{"sam"}, result.Ambiguous)
}

func TestResolveDeduplicatesUsers(t *testing.T) {
	candidates := []Candidate{{UserID: "1", Name: "bob", Email: "bob@example.com"}}

	result := Resolve([]string{"bob", "bob@example.com"}, candidates)
	require.Len(t, result.Users, 1)
}

func TestBuildNotifications(t *testing.T) {
	drafts := BuildNotifications([]MentionedUser{
		{Token: "bob", UserID: "1"},
		{Token: "robert", UserID: "1"},
		{Token: "alice", UserID: "2"},
	}, Source{MessageID: 9, AuthorName: "Dana", RoomID: "42", RoomType: "TASK"})

	require.Len(t, drafts, 2)
	require.Equal(t, "MENTION", drafts[0].Type)
	require.Equal(t, "Mentioned by Dana", drafts[0].Title)
	require.Equal(t, "Dana mentioned you in task chat", drafts[0].Message)
	require.Equal(t, "1", drafts[0].TargetUserID)
	require.Equal(t, "42", drafts[0].Data["roomId"])
	require.Equal(t, "TASK", drafts[0].Data["roomType"])
	require.Equal(t, uint(9), drafts[0].Data["messageId"])
	require.Equal(t, "2", drafts[1].TargetUserID)
}
