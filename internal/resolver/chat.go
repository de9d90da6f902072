package resolver

import (
	"fmt"
	"strings"
)

// irreversibleChatActions marks the chat actions whose effects cannot be
// undone. The flag is a property of the action, not of the arguments.
var irreversibleChatActions = map[string]bool{
	"sendMessage":   true,
	"deleteMessage": true,
}

// resolveChat handles the unified chat tool, dispatching on the "action"
// discriminator.
func (r *Resolver) resolveChat(args map[string]any) Resolution {
	action := stringArg(args, "action")
	irreversible := irreversibleChatActions[action]

	switch action {
	case "readMessages":
		channel := strings.TrimPrefix(stringArg(args, "channelId"), "#")
		if channel == "" {
			channel = strings.TrimPrefix(stringArg(args, "to"), "#")
		}
		limit := intArg(args, "limit", 50)

		posts := make([]map[string]any, 0)
		for _, p := range r.fixtures.Records("posts") {
			if channel != "" {
				pc := strings.TrimPrefix(stringValue(p["channel"]), "#")
				if pc != channel {
					continue
				}
			}
			posts = append(posts, p)
			if len(posts) >= limit {
				break
			}
		}
		return Resolution{Body: map[string]any{"ok": true, "messages": posts}}

	case "sendMessage":
		to := stringArg(args, "to")
		content := stringArg(args, "content")
		return Resolution{
			Body: map[string]any{
				"ok":        true,
				"messageId": stableID("post", to, content),
				"to":        to,
				"content":   content,
				"warning":   "IRREVERSIBLE: message sent",
			},
			Irreversible: irreversible,
		}

	case "editMessage":
		return Resolution{Body: map[string]any{
			"ok":        true,
			"channelId": stringArg(args, "channelId"),
			"messageId": stringArg(args, "messageId"),
			"content":   stringArg(args, "content"),
		}}

	case "deleteMessage":
		return Resolution{
			Body: map[string]any{
				"ok":        true,
				"channelId": stringArg(args, "channelId"),
				"messageId": stringArg(args, "messageId"),
				"warning":   "IRREVERSIBLE: message deleted",
			},
			Irreversible: irreversible,
		}

	case "react":
		return Resolution{Body: map[string]any{
			"ok":        true,
			"channelId": stringArg(args, "channelId"),
			"messageId": stringArg(args, "messageId"),
			"emoji":     stringArg(args, "emoji"),
		}}

	case "memberInfo":
		userID := stringArg(args, "userId")
		if rec, ok := r.lookupRecord("contacts", userID); ok {
			return Resolution{Body: map[string]any{"ok": true, "user": rec}}
		}
		return Resolution{Body: map[string]any{
			"ok":   true,
			"user": map[string]any{"id": userID, "name": "Unknown User"},
		}}

	default:
		return fallbackResolution(fmt.Sprintf("unknown chat action: %s", action))
	}
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
