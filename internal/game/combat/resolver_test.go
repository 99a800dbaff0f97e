package combat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dinoarena/server/internal/events"
	"github.com/dinoarena/server/internal/game/entity"
	"github.com/dinoarena/server/internal/game/npc"
)

type eventSink struct {
	events.NopSink
	mu     sync.Mutex
	events []events.Event
}

func (s *eventSink) PublishEvent(roomCode string, e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func testResolver(sink events.Sink) *Resolver {
	return NewResolver(Config{
		Cooldown: 1500 * time.Millisecond,
		Range:    80,
		Height:   100,
		Damage:   5,
	}, sink, zap.NewNop())
}

func TestAttackHitsNPCInFacingRectangle(t *testing.T) {
	sink := &eventSink{}
	r := testResolver(sink)

	player := entity.NewPlayer("ana", 100, 5)
	player.X, player.Y = 200, 100
	player.FacingRight = true

	inRange := npc.NewNPC(250, 100, 50, 5)
	outOfRange := npc.NewNPC(600, 100, 50, 5)

	swung := r.TryAttack("ROOM1", player, []*npc.NPC{inRange, outOfRange}, time.Now())
	require.True(t, swung)

	assert.Equal(t, 45, inRange.Health)
	assert.Equal(t, 50, outOfRange.Health)
}

func TestAttackRespectsFacingDirection(t *testing.T) {
	r := testResolver(&eventSink{})

	player := entity.NewPlayer("ana", 100, 5)
	player.X, player.Y = 200, 100
	player.FacingRight = false

	behind := npc.NewNPC(250, 100, 50, 5) // to the right, player faces left
	ahead := npc.NewNPC(130, 100, 50, 5)

	r.TryAttack("ROOM1", player, []*npc.NPC{behind, ahead}, time.Now())

	assert.Equal(t, 50, behind.Health)
	assert.Equal(t, 45, ahead.Health)
}

func TestAttackRespectsHitboxHeight(t *testing.T) {
	r := testResolver(&eventSink{})

	player := entity.NewPlayer("ana", 100, 5)
	player.X, player.Y = 200, 100
	player.FacingRight = true

	inside := npc.NewNPC(240, 149, 50, 5)  // |dy| = 49 < height/2
	outside := npc.NewNPC(240, 151, 50, 5) // |dy| = 51 > height/2

	r.TryAttack("ROOM1", player, []*npc.NPC{inside, outside}, time.Now())

	assert.Equal(t, 45, inside.Health)
	assert.Equal(t, 50, outside.Health)
}

func TestAttackCooldownGatesSwings(t *testing.T) {
	r := testResolver(&eventSink{})

	player := entity.NewPlayer("ana", 100, 5)
	player.X, player.Y = 200, 100
	target := npc.NewNPC(250, 100, 50, 5)
	now := time.Now()

	require.True(t, r.TryAttack("ROOM1", player, []*npc.NPC{target}, now))
	assert.Equal(t, 45, target.Health)

	// Repeated ticks before the cooldown expires do nothing.
	assert.False(t, r.TryAttack("ROOM1", player, []*npc.NPC{target}, now.Add(time.Second)))
	assert.Equal(t, 45, target.Health)

	require.True(t, r.TryAttack("ROOM1", player, []*npc.NPC{target}, now.Add(2*time.Second)))
	assert.Equal(t, 40, target.Health)
}

func TestKillEmitsEventAndAttributesKiller(t *testing.T) {
	sink := &eventSink{}
	r := testResolver(sink)

	player := entity.NewPlayer("ana", 100, 5)
	player.X, player.Y = 200, 100
	target := npc.NewNPC(250, 100, 5, 5) // one hit from death

	r.TryAttack("ROOM1", player, []*npc.NPC{target}, time.Now())

	require.True(t, target.Dead())
	assert.Equal(t, "ana", target.LastHitBy)
	require.Len(t, sink.events, 1)
	assert.Equal(t, events.TypeNPCKilled, sink.events[0].Type)
	assert.Equal(t, target.ID, sink.events[0].NPCID)
	assert.Equal(t, "ana", sink.events[0].KilledBy)
}

func TestDeadNPCAndDeadPlayerAreNoOps(t *testing.T) {
	r := testResolver(&eventSink{})

	player := entity.NewPlayer("ana", 100, 5)
	player.X, player.Y = 200, 100
	target := npc.NewNPC(250, 100, 5, 5)
	target.ReceiveDamage(5, "bruno")
	require.True(t, target.Dead())

	r.TryAttack("ROOM1", player, []*npc.NPC{target}, time.Now())
	assert.Equal(t, "bruno", target.LastHitBy, "dead NPC takes no further damage")

	player.Health = 0
	assert.False(t, r.TryAttack("ROOM1", player, nil, time.Now()))
}
