package wire

// Server -> client packet ids (a selection from the external-interfaces
// packet table; numbering matches a bancho-style client exactly).
const (
	PacketUserID             uint16 = 5
	PacketSendMessage        uint16 = 7
	PacketUserStats          uint16 = 11
	PacketUserLogout         uint16 = 12
	PacketSupporterGMT       uint16 = 13
	PacketRestart            uint16 = 19
	PacketSilenceEndTime     uint16 = 23
	PacketNotification       uint16 = 24
	PacketMatchUpdate        uint16 = 26
	PacketMatchNew           uint16 = 27
	PacketMatchStart         uint16 = 28
	PacketChannelJoinSuccess uint16 = 64
	PacketChannelInfo        uint16 = 65
	PacketChannelInfoEnd     uint16 = 66
	PacketMatchJoinSuccess   uint16 = 36
	PacketMatchJoinFail      uint16 = 37
	PacketMatchDispose       uint16 = 38
	PacketAllPlayersLoaded   uint16 = 46
	PacketMatchSkip          uint16 = 48
	PacketMatchComplete      uint16 = 50
	PacketMatchTransferHost  uint16 = 57
	PacketMatchAbort         uint16 = 58
	PacketUserPanel          uint16 = 83
	PacketUserSilenced       uint16 = 86
	PacketProtocolVersion    uint16 = 75
	PacketChannelKicked      uint16 = 69
	PacketTargetBlockingDMs  uint16 = 95
)

// Spectator-group server packets (prefixed to avoid colliding with the
// numeric overlap the protocol itself has between unrelated groups).
const (
	SpectatorJoined  uint16 = 13
	SpectatorLeft    uint16 = 14
	SpectatorFrames  uint16 = 15
	SpectatorCantSpec uint16 = 22
	SpectatorFellow  uint16 = 23
)

// Client -> server packet ids consumed by the dispatcher (C9).
const (
	ClientChangeMatchSettings  uint16 = 101
	ClientChangeProtocolVer    uint16 = 102
	ClientChangeTeam           uint16 = 103
	ClientMatchFailed          uint16 = 104
	ClientLockSlot             uint16 = 105
	ClientStartSpectating      uint16 = 106
	ClientSpectateFrames       uint16 = 107
	ClientSendPublicMessage    uint16 = 108
	ClientSendPrivateMessage   uint16 = 109
	ClientJoinChannel          uint16 = 110
	ClientPartChannel          uint16 = 111
	ClientPing                 uint16 = 112
	ClientLogout               uint16 = 113
	ClientMatchJoin            uint16 = 114
	ClientMatchPart            uint16 = 115
	ClientMatchReady           uint16 = 116
	ClientMatchNotReady        uint16 = 117
	ClientMatchStartRequest    uint16 = 118
	ClientMatchLoadComplete    uint16 = 119
	ClientMatchSkipRequest     uint16 = 120
	ClientMatchComplete        uint16 = 121
	ClientMatchHasBeatmap      uint16 = 122
	ClientMatchNoBeatmap       uint16 = 123
	ClientStopSpectating       uint16 = 124
	ClientCantSpectate         uint16 = 125
	ClientUserStatsRequest     uint16 = 126
	ClientChannelJoinRequest   uint16 = 127
	ClientChannelPartRequest   uint16 = 128
	ClientMatchCreate          uint16 = 129
)
