package wire

// This file holds the one-builder-per-outbound-packet surface named in
// the wire codec component. These are server->client packets with no
// Parse* counterpart in client_packets.go; codec_test.go round-trips the
// field encodings they use through Reader and checks the framing of
// BuildUserStats and BuildMatchNew.

func BuildUserID(userID int32) []byte {
	return Build(PacketUserID, func(w *Writer) { w.WriteS32(userID) })
}

func BuildSilenceEndTime(seconds int32) []byte {
	return Build(PacketSilenceEndTime, func(w *Writer) { w.WriteS32(seconds) })
}

func BuildProtocolVersion(version int32) []byte {
	return Build(PacketProtocolVersion, func(w *Writer) { w.WriteS32(version) })
}

func BuildSupporterGMT(flags uint32) []byte {
	return Build(PacketSupporterGMT, func(w *Writer) { w.WriteU32(flags) })
}

func BuildSendMessage(from, msg, to string, fromID int32) []byte {
	return Build(PacketSendMessage, func(w *Writer) {
		w.WriteString(from)
		w.WriteString(msg)
		w.WriteString(to)
		w.WriteS32(fromID)
	})
}

type UserStatsFields struct {
	UserID      uint32
	ActionID    uint8
	ActionText  string
	ActionMD5   string
	ActionMods  int32
	Mode        uint8
	BeatmapID   int32
	RankedScore uint64
	Accuracy    float32
	Playcount   uint32
	TotalScore  uint64
	Rank        uint32
	PP          uint16
}

func BuildUserStats(f UserStatsFields) []byte {
	return Build(PacketUserStats, func(w *Writer) {
		w.WriteU32(f.UserID)
		w.WriteU8(f.ActionID)
		w.WriteString(f.ActionText)
		w.WriteString(f.ActionMD5)
		w.WriteS32(f.ActionMods)
		w.WriteU8(f.Mode)
		w.WriteS32(f.BeatmapID)
		w.WriteU64(f.RankedScore)
		w.WriteF32(f.Accuracy)
		w.WriteU32(f.Playcount)
		w.WriteU64(f.TotalScore)
		w.WriteU32(f.Rank)
		w.WriteU16(f.PP)
	})
}

func BuildUserLogout(userID int32) []byte {
	return Build(PacketUserLogout, func(w *Writer) {
		w.WriteS32(userID)
		w.WriteU8(0)
	})
}

func BuildRestart(ms uint32) []byte {
	return Build(PacketRestart, func(w *Writer) { w.WriteU32(ms) })
}

func BuildNotification(text string) []byte {
	return Build(PacketNotification, func(w *Writer) { w.WriteString(text) })
}

func BuildChannelJoinSuccess(name string) []byte {
	return Build(PacketChannelJoinSuccess, func(w *Writer) { w.WriteString(name) })
}

func BuildChannelInfo(name, description string, memberCount uint16) []byte {
	return Build(PacketChannelInfo, func(w *Writer) {
		w.WriteString(name)
		w.WriteString(description)
		w.WriteU16(memberCount)
	})
}

func BuildChannelInfoEnd() []byte {
	return Build(PacketChannelInfoEnd, func(w *Writer) { w.WriteU32(0) })
}

func BuildChannelKicked(name string) []byte {
	return Build(PacketChannelKicked, func(w *Writer) { w.WriteString(name) })
}

type UserPanelFields struct {
	UserID    int32
	Name      string
	TZ        uint8
	Country   uint8
	RankFlags uint8
	Lon       float32
	Lat       float32
	Rank      uint32
}

func BuildUserPanel(f UserPanelFields) []byte {
	return Build(PacketUserPanel, func(w *Writer) {
		w.WriteS32(f.UserID)
		w.WriteString(f.Name)
		w.WriteU8(f.TZ)
		w.WriteU8(f.Country)
		w.WriteU8(f.RankFlags)
		w.WriteF32(f.Lon)
		w.WriteF32(f.Lat)
		w.WriteU32(f.Rank)
	})
}

func BuildUserSilenced(userID uint32) []byte {
	return Build(PacketUserSilenced, func(w *Writer) { w.WriteU32(userID) })
}

func BuildTargetBlockingDMs() []byte {
	return Build(PacketTargetBlockingDMs, func(w *Writer) {})
}

// Spectator relay packets (C8).

func BuildSpectatorJoined(userID int32) []byte {
	return Build(SpectatorJoined, func(w *Writer) { w.WriteS32(userID) })
}

func BuildSpectatorLeft(userID int32) []byte {
	return Build(SpectatorLeft, func(w *Writer) { w.WriteS32(userID) })
}

func BuildSpectatorFrames(data []byte) []byte {
	return Build(SpectatorFrames, func(w *Writer) { w.WriteBytes(data) })
}

func BuildNoSongSpectator(hostUserID int32) []byte {
	return Build(SpectatorCantSpec, func(w *Writer) { w.WriteS32(hostUserID) })
}

func BuildFellowSpectatorJoined(userID int32) []byte {
	return Build(SpectatorFellow, func(w *Writer) { w.WriteS32(userID) })
}

func BuildFellowSpectatorLeft(userID int32) []byte {
	return Build(SpectatorFellow+1, func(w *Writer) { w.WriteS32(userID) })
}

func BuildAddSpectator(userID int32) []byte {
	return Build(SpectatorJoined+100, func(w *Writer) { w.WriteS32(userID) })
}

func BuildRemoveSpectator(userID int32) []byte {
	return Build(SpectatorLeft+100, func(w *Writer) { w.WriteS32(userID) })
}

// Match engine packets (C7).

func BuildMatchNew(data []byte) []byte {
	return Build(PacketMatchNew, func(w *Writer) { w.WriteBytes(data) })
}

func BuildUpdateMatch(data []byte) []byte {
	return Build(PacketMatchUpdate, func(w *Writer) { w.WriteBytes(data) })
}

func BuildMatchStart(data []byte) []byte {
	return Build(PacketMatchStart, func(w *Writer) { w.WriteBytes(data) })
}

func BuildMatchJoinSuccess(data []byte) []byte {
	return Build(PacketMatchJoinSuccess, func(w *Writer) { w.WriteBytes(data) })
}

func BuildMatchJoinFail() []byte {
	return Build(PacketMatchJoinFail, func(w *Writer) {})
}

func BuildMatchDispose(matchID int32) []byte {
	return Build(PacketMatchDispose, func(w *Writer) { w.WriteS32(matchID) })
}

func BuildAllPlayersLoaded() []byte {
	return Build(PacketAllPlayersLoaded, func(w *Writer) {})
}

func BuildAllPlayersSkipped() []byte {
	return Build(PacketMatchSkip, func(w *Writer) {})
}

func BuildMatchComplete() []byte {
	return Build(PacketMatchComplete, func(w *Writer) {})
}

func BuildMatchTransferHost() []byte {
	return Build(PacketMatchTransferHost, func(w *Writer) {})
}

func BuildMatchAbort() []byte {
	return Build(PacketMatchAbort, func(w *Writer) {})
}
