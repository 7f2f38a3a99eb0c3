package service

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/noah-isme/goalchat/internal/dto"
	"github.com/noah-isme/goalchat/internal/observability"
)

var (
	identityAdjectives = []string{
		"Brave", "Calm", "Clever", "Daring", "Eager", "Fearless", "Gentle", "Happy",
		"Humble", "Jolly", "Keen", "Lively", "Loyal", "Mighty", "Nimble", "Patient",
		"Proud", "Quick", "Quiet", "Radiant", "Steady", "Swift", "Tireless", "Witty",
	}
	identityNouns = []string{
		"Warrior", "Climber", "Runner", "Explorer", "Falcon", "Fox", "Guardian", "Hawk",
		"Knight", "Lion", "Mariner", "Navigator", "Otter", "Panther", "Pilot", "Ranger",
		"Sailor", "Scholar", "Seeker", "Sparrow", "Tiger", "Voyager", "Wanderer", "Wolf",
	}
)

// PresenceService tracks which members have joined which rooms and mints
// anonymous identities. Membership is process local.
type PresenceService interface {
	MintOrRecognizeIdentity(sessionID, displayName string) dto.AnonymousIdentity
	JoinRoom(roomID, memberID string) bool
	LeaveRoom(roomID, memberID string) bool
	LeaveAll(memberID string) []string
	IsMember(roomID, memberID string) bool
	MemberCount(roomID string) int
	Members(roomID string) []string
}

type presenceService struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]struct{}
	members map[string]map[string]struct{}
	logger  zerolog.Logger
}

// NewPresenceService creates an empty room presence coordinator.
func NewPresenceService(logger zerolog.Logger) PresenceService {
	return &presenceService{
		rooms:   make(map[string]map[string]struct{}),
		members: make(map[string]map[string]struct{}),
		logger:  logger.With().Str("component", "presence_service").Logger(),
	}
}

// MintOrRecognizeIdentity returns the presented identity unchanged when both
// parts are supplied, otherwise a fresh one. Display names are not unique.
func (s *presenceService) MintOrRecognizeIdentity(sessionID, displayName string) dto.AnonymousIdentity {
	sessionID = strings.TrimSpace(sessionID)
	displayName = strings.TrimSpace(displayName)
	if sessionID != "" && displayName != "" {
		return dto.AnonymousIdentity{SessionID: sessionID, DisplayName: displayName}
	}

	identity := dto.AnonymousIdentity{
		SessionID:   uuid.NewString(),
		DisplayName: lo.Sample(identityAdjectives) + " " + lo.Sample(identityNouns),
	}
	s.logger.Debug().Str("display_name", identity.DisplayName).Msg("anonymous identity minted")
	return identity
}

// JoinRoom records membership and reports whether it was newly added.
func (s *presenceService) JoinRoom(roomID, memberID string) bool {
	if roomID == "" || memberID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		room = make(map[string]struct{})
		s.rooms[roomID] = room
	}
	if _, joined := room[memberID]; joined {
		return false
	}
	room[memberID] = struct{}{}

	joinedRooms, ok := s.members[memberID]
	if !ok {
		joinedRooms = make(map[string]struct{})
		s.members[memberID] = joinedRooms
	}
	joinedRooms[roomID] = struct{}{}

	observability.PresenceTransitions().WithLabelValues("join").Inc()
	return true
}

// LeaveRoom removes membership and reports whether the member was present.
func (s *presenceService) LeaveRoom(roomID, memberID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaveLocked(roomID, memberID)
}

// LeaveAll drops the member from every room, typically on disconnect, and
// returns the rooms that were left in sorted order.
func (s *presenceService) LeaveAll(memberID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := lo.Keys(s.members[memberID])
	sort.Strings(rooms)
	for _, roomID := range rooms {
		s.leaveLocked(roomID, memberID)
	}
	return rooms
}

func (s *presenceService) IsMember(roomID, memberID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.rooms[roomID][memberID]
	return ok
}

func (s *presenceService) MemberCount(roomID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[roomID])
}

func (s *presenceService) Members(roomID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := lo.Keys(s.rooms[roomID])
	sort.Strings(members)
	return members
}

func (s *presenceService) leaveLocked(roomID, memberID string) bool {
	room, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	if _, joined := room[memberID]; !joined {
		return false
	}

	delete(room, memberID)
	if len(room) == 0 {
		delete(s.rooms, roomID)
	}
	if joinedRooms, ok := s.members[memberID]; ok {
		delete(joinedRooms, roomID)
		if len(joinedRooms) == 0 {
			delete(s.members, memberID)
		}
	}

	observability.PresenceTransitions().WithLabelValues("leave").Inc()
	return true
}
