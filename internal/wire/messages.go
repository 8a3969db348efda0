package wire

// Client to server message types.
const (
	TypeCreateMatch = "createMatch"
	TypeJoinMatch   = "joinMatch"
	TypeQuickMatch  = "quickMatch"
	TypeStartMatch  = "startMatch"
	TypePlayerMove  = "playerMove"
	TypePlayerShoot = "playerShoot"
)

// Server to client message types.
const (
	TypeMatchCreated = "matchCreated"
	TypeMatchUpdate  = "matchUpdate"
	TypeMatchStart   = "matchStart"
	TypeMatchError   = "matchError"
	TypeGameState    = "gameState"
	TypePlayerShot   = "playerShot"
	TypePlayerHit    = "playerHit"
	TypePlayerKilled = "playerKilled"
	TypeMatchEnd     = "matchEnd"
)

// PlayerData identifies a player to the matchmaker at join time.
type PlayerData struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
}

// CreateMatchRequest asks for a fresh private match owned by the sender.
type CreateMatchRequest struct {
	PlayerData PlayerData `json:"playerData"`
	MaxPlayers int        `json:"maxPlayers,omitempty"`
}

// JoinMatchRequest joins an existing match by its human-typeable code.
type JoinMatchRequest struct {
	MatchCode  string     `json:"matchCode"`
	PlayerData PlayerData `json:"playerData"`
}

// QuickMatchRequest asks the matchmaker to find or create a public match.
type QuickMatchRequest struct {
	PlayerID        string `json:"playerId"`
	Username        string `json:"username"`
	DesiredCapacity int    `json:"desiredCapacity,omitempty"`
}

// StartMatchRequest explicitly starts a waiting match.
type StartMatchRequest struct {
	MatchCode string `json:"matchCode"`
}

// MoveRequest carries the client's requested position and facing.
type MoveRequest struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation"`
}

// ShootRequest fires the sender's weapon along the given aim angle in radians.
type ShootRequest struct {
	Angle float64 `json:"angle"`
}

// LobbyPlayer is the roster entry shape shown while a match is waiting.
type LobbyPlayer struct {
	ConnID   string `json:"socketId"`
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
	IsReady  bool   `json:"isReady"`
}

// MatchUpdate reflects the current roster and lifecycle state of a match.
type MatchUpdate struct {
	Code       string        `json:"code"`
	Players    []LobbyPlayer `json:"players"`
	MaxPlayers int           `json:"maxPlayers"`
	Status     string        `json:"status"`
}

// MatchCreated confirms private match creation to the creator.
type MatchCreated struct {
	Code  string      `json:"code"`
	Match MatchUpdate `json:"match"`
}

// MatchStart tells every member the simulation is live.
type MatchStart struct {
	MatchCode string `json:"matchCode"`
}

// MatchError reports a recoverable failure to the originating connection only.
type MatchError struct {
	Error string `json:"error"`
}

// PlayerSnapshot is the per-player slice of a tick snapshot.
type PlayerSnapshot struct {
	ID          string  `json:"id"`
	PlayerID    string  `json:"playerId"`
	Username    string  `json:"username"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Rotation    float64 `json:"rotation"`
	Health      float64 `json:"health"`
	MaxHealth   float64 `json:"maxHealth"`
	Ammo        int     `json:"ammo"`
	MaxAmmo     int     `json:"maxAmmo"`
	IsReloading bool    `json:"isReloading"`
	Kills       int     `json:"kills"`
	Damage      float64 `json:"damage"`
	IsAlive     bool    `json:"isAlive"`
}

// BulletSnapshot describes one live projectile.
type BulletSnapshot struct {
	ID      uint64  `json:"id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	VX      float64 `json:"vx"`
	VY      float64 `json:"vy"`
	OwnerID string  `json:"ownerId"`
}

// GameState is the full world snapshot broadcast every tick.
type GameState struct {
	Players []PlayerSnapshot `json:"players"`
	Bullets []BulletSnapshot `json:"bullets"`
}

// PlayerShot announces freshly spawned projectiles the instant they fire.
type PlayerShot struct {
	Bullets []BulletSnapshot `json:"bullets"`
}

// PlayerHit announces a projectile impact on a living player.
type PlayerHit struct {
	TargetID  string  `json:"targetId"`
	ShooterID string  `json:"shooterId"`
	Damage    float64 `json:"damage"`
	Health    float64 `json:"health"`
}

// PlayerKilled announces a death the instant health reaches zero.
type PlayerKilled struct {
	TargetID  string `json:"targetId"`
	ShooterID string `json:"shooterId"`
	Kills     int    `json:"kills"`
}

// PlayerResult summarises one player's match outcome.
type PlayerResult struct {
	ConnID   string  `json:"socketId"`
	PlayerID string  `json:"playerId"`
	Username string  `json:"username"`
	Kills    int     `json:"kills"`
	Damage   float64 `json:"damage"`
	IsAlive  bool    `json:"isAlive"`
}

// MatchEnd carries the terminal result summary for a finished match.
type MatchEnd struct {
	MatchCode  string         `json:"matchCode"`
	WinnerID   string         `json:"winnerId"`
	WinnerName string         `json:"winnerName"`
	Players    []PlayerResult `json:"players"`
}
