// Package mention extracts @mentions from chat content and turns resolved mentions
// into notification drafts.
package mention

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/noah-isme/teamhub-realtime/internal/dto"
)

// NotificationType is the notification type used for mention notifications.
const NotificationType = "MENTION"

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9._-]+)`)

// Candidate is a room member a mention token may refer to.
type Candidate struct {
	UserID string
	Name   string
	Email  string
}

// MentionedUser is a candidate that a token resolved to.
type MentionedUser struct {
	Token  string
	UserID string
	Name   string
	Email  string
}

// Resolution is the outcome of matching tokens against candidates.
type Resolution struct {
	Users []MentionedUser
	// Ambiguous lists tokens that matched more than one candidate. The first match
	// still wins; callers may surface these for disambiguation.
	Ambiguous []string
}

// Extract returns the distinct mention tokens in content, without the leading @,
// in first-seen order.
func Extract(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	tokens := make([]string, 0, len(matches))
	for _, match := range matches {
		token := match[1]
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}
	return tokens
}

// Resolve matches tokens case-insensitively against each candidate's display name,
// full email and email local part. Tokens without a match are dropped. Each user is
// returned at most once.
func Resolve(tokens []string, candidates []Candidate) Resolution {
	var result Resolution
	resolved := make(map[string]struct{})

	for _, token := range tokens {
		var (
			first   *Candidate
			matches int
		)
		for i := range candidates {
			if !matchesCandidate(token, candidates[i]) {
				continue
			}
			matches++
			if first == nil {
				first = &candidates[i]
			}
		}
		if first == nil {
			continue
		}
		if matches > 1 {
			result.Ambiguous = append(result.Ambiguous, token)
		}
		if _, ok := resolved[first.UserID]; ok {
			continue
		}
		resolved[first.UserID] = struct{}{}
		result.Users = append(result.Users, MentionedUser{
			Token:  token,
			UserID: first.UserID,
			Name:   first.Name,
			Email:  first.Email,
		})
	}

	return result
}

func matchesCandidate(token string, candidate Candidate) bool {
	if candidate.Name != "" && strings.EqualFold(token, candidate.Name) {
		return true
	}
	if candidate.Email == "" {
		return false
	}
	if strings.EqualFold(token, candidate.Email) {
		return true
	}
	local, _, found := strings.Cut(candidate.Email, "@")
	return found && local != "" && strings.EqualFold(token, local)
}

// Source identifies the chat message that produced a set of mentions.
type Source struct {
	MessageID  uint
	AuthorName string
	RoomID     string
	RoomType   string
}

// BuildNotifications produces one notification draft per distinct mentioned user.
func BuildNotifications(users []MentionedUser, source Source) []dto.NotificationCreateRequest {
	drafts := make([]dto.NotificationCreateRequest, 0, len(users))
	seen := make(map[string]struct{}, len(users))
	for _, user := range users {
		if _, ok := seen[user.UserID]; ok {
			continue
		}
		seen[user.UserID] = struct{}{}

		drafts = append(drafts, dto.NotificationCreateRequest{
			Type:    NotificationType,
			Title:   fmt.Sprintf("Mentioned by %s", source.AuthorName),
			Message: fmt.Sprintf("%s mentioned you in %s chat", source.AuthorName, strings.ToLower(source.RoomType)),
			Data: map[string]interface{}{
				"roomId":    source.RoomID,
				"roomType":  source.RoomType,
				"messageId": source.MessageID,
			},
			TargetUserID: user.UserID,
		})
	}
	return drafts
}
