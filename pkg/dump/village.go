package dump

import "fmt"

// Village is one settlement row extracted from a world dump.
type Village struct {
	Key        string `json:"key" db:"key"`
	WorldID    int64  `json:"worldid" db:"worldid"`
	X          int    `json:"x" db:"x"`
	Y          int    `json:"y" db:"y"`
	TribeID    int    `json:"tribe_id" db:"tid"`
	VillageID  int64  `json:"village_id" db:"vid"`
	Name       string `json:"name" db:"village"`
	PlayerID   int64  `json:"player_id" db:"uid"`
	Player     string `json:"player" db:"player"`
	AllianceID int64  `json:"alliance_id" db:"aid"`
	Alliance   string `json:"alliance" db:"alliance"`
	Population int    `json:"population" db:"population"`
	Capital    bool   `json:"capital" db:"capital"`
	IsWW       bool   `json:"is_ww" db:"is_ww"`
	WWName     string `json:"ww_name,omitempty" db:"ww_name"`
}

// IdentityKey returns the stable identity for a settlement. Dumps that
// carry a world id keep identity across coordinate changes; without one
// the coordinate pair is the identity (unique per world at any time).
func IdentityKey(worldID int64, x, y int) string {
	if worldID > 0 {
		return fmt.Sprintf("w:%d", worldID)
	}
	return fmt.Sprintf("c:%d:%d", x, y)
}
