package sim

import "time"

// Config captures the gameplay tunables that shape one authoritative match.
type Config struct {
	// TickHz is the fixed simulation frequency.
	TickHz float64
	// MapSize is the side length of the square playable area.
	MapSize float64
	// PlayerSpeed is the maximum movement speed in units per second.
	PlayerSpeed float64
	// MaxHealth is the spawn health for every player.
	MaxHealth float64
	// MaxAmmo is the magazine size.
	MaxAmmo int
	// ReloadDuration is how long an empty magazine takes to refill.
	ReloadDuration time.Duration
	// BulletSpeed is the projectile speed in units per second.
	BulletSpeed float64
	// BulletLifetime bounds how long a projectile may fly without impact.
	BulletLifetime time.Duration
	// BulletDamage is the fixed health cost of one hit.
	BulletDamage float64
	// HitRadius is the distance within which a projectile registers a hit.
	HitRadius float64
}

// DefaultConfig returns the arena tuning used in production.
func DefaultConfig() Config {
	return Config{
		TickHz:         20,
		MapSize:        2000,
		PlayerSpeed:    150,
		MaxHealth:      100,
		MaxAmmo:        30,
		ReloadDuration: 1500 * time.Millisecond,
		BulletSpeed:    600,
		BulletLifetime: 2 * time.Second,
		BulletDamage:   10,
		HitRadius:      24,
	}
}

// normalized fills zero values with defaults so partially built configs stay safe.
func (c Config) normalized() Config {
	defaults := DefaultConfig()
	if c.TickHz <= 0 {
		c.TickHz = defaults.TickHz
	}
	if c.MapSize <= 0 {
		c.MapSize = defaults.MapSize
	}
	if c.PlayerSpeed <= 0 {
		c.PlayerSpeed = defaults.PlayerSpeed
	}
	if c.MaxHealth <= 0 {
		c.MaxHealth = defaults.MaxHealth
	}
	if c.MaxAmmo <= 0 {
		c.MaxAmmo = defaults.MaxAmmo
	}
	if c.ReloadDuration <= 0 {
		c.ReloadDuration = defaults.ReloadDuration
	}
	if c.BulletSpeed <= 0 {
		c.BulletSpeed = defaults.BulletSpeed
	}
	if c.BulletLifetime <= 0 {
		c.BulletLifetime = defaults.BulletLifetime
	}
	if c.BulletDamage <= 0 {
		c.BulletDamage = defaults.BulletDamage
	}
	if c.HitRadius <= 0 {
		c.HitRadius = defaults.HitRadius
	}
	return c
}
