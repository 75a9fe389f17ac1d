package snapshot

import "strconv"

// permissionNames maps permission bit positions to their display names.
var permissionNames = map[uint]string{
	0:  "CreateInstantInvite",
	1:  "KickMembers",
	2:  "BanMembers",
	3:  "Administrator",
	4:  "ManageChannels",
	5:  "ManageGuild",
	6:  "AddReactions",
	7:  "ViewAuditLog",
	8:  "PrioritySpeaker",
	9:  "Stream",
	10: "ViewChannel",
	11: "SendMessages",
	12: "SendTTSMessages",
	13: "ManageMessages",
	14: "EmbedLinks",
	15: "AttachFiles",
	16: "ReadMessageHistory",
	17: "MentionEveryone",
	18: "UseExternalEmojis",
	19: "ViewGuildInsights",
	20: "Connect",
	21: "Speak",
	22: "MuteMembers",
	23: "DeafenMembers",
	24: "MoveMembers",
	25: "UseVAD",
	26: "ChangeNickname",
	27: "ManageNicknames",
	28: "ManageRoles",
	29: "ManageWebhooks",
	30: "ManageGuildExpressions",
	31: "UseApplicationCommands",
	32: "RequestToSpeak",
	33: "ManageEvents",
	34: "ManageThreads",
	35: "CreatePublicThreads",
	36: "CreatePrivateThreads",
	37: "UseExternalStickers",
	38: "SendMessagesInThreads",
	39: "UseEmbeddedActivities",
	40: "ModerateMembers",
	41: "ViewCreatorMonetizationAnalytics",
	42: "UseSoundboard",
	43: "CreateGuildExpressions",
	44: "CreateEvents",
	45: "UseExternalSounds",
	46: "SendVoiceMessages",
	49: "SendPolls",
	50: "UseExternalApps",
}

// PermissionNames decodes a permission bit field into names, lowest bit first.
// Unnamed bits render as "Bit<n>".
func PermissionNames(bits int64) []string {
	out := []string{}
	for i := uint(0); i < 64; i++ {
		if bits&(int64(1)<<i) == 0 {
			continue
		}
		if name, ok := permissionNames[i]; ok {
			out = append(out, name)
		} else {
			out = append(out, "Bit"+strconv.Itoa(int(i)))
		}
	}
	return out
}
