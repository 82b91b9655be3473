package worldclient

import (
	"context"

	"fleetmind.ai/internal/fleet"
	"fleetmind.ai/internal/protocol"
)

func (s *Session) instant(ctx context.Context, req protocol.InstantReq) error {
	req.ID = s.newRef()
	res, err := s.await(ctx, req.ID, func() error {
		return s.sendAct([]protocol.InstantReq{req}, nil, nil)
	})
	if err != nil {
		return err
	}
	if !res.OK {
		return &ActionError{Code: res.Code, Message: res.Message}
	}
	return nil
}

func (s *Session) startTask(ctx context.Context, req protocol.TaskReq) (string, error) {
	req.ID = s.newRef()
	res, err := s.await(ctx, req.ID, func() error {
		return s.sendAct(nil, []protocol.TaskReq{req}, nil)
	})
	if err != nil {
		return "", err
	}
	if !res.OK {
		return "", &ActionError{Code: res.Code, Message: res.Message}
	}
	if res.TaskID == "" {
		return "", &ActionError{Code: protocol.ErrInternal, Message: "accepted without task id"}
	}
	return res.TaskID, nil
}

func (s *Session) Say(ctx context.Context, text string) error {
	return s.instant(ctx, protocol.InstantReq{Type: "SAY", Text: text})
}

func (s *Session) Equip(ctx context.Context, itemID, slot string) error {
	return s.instant(ctx, protocol.InstantReq{Type: "EQUIP", ItemID: itemID, Slot: slot})
}

func (s *Session) Consume(ctx context.Context, itemID string) error {
	return s.instant(ctx, protocol.InstantReq{Type: "CONSUME", ItemID: itemID})
}

func (s *Session) SleepAt(ctx context.Context, bedPos fleet.Vec3i) error {
	return s.instant(ctx, protocol.InstantReq{Type: "SLEEP", BlockPos: [3]int(bedPos)})
}

func (s *Session) Attack(ctx context.Context, targetID string) error {
	return s.instant(ctx, protocol.InstantReq{Type: "ATTACK", TargetID: targetID})
}

func (s *Session) StartMove(ctx context.Context, dest fleet.Vec3i, tolerance float64) (string, error) {
	return s.startTask(ctx, protocol.TaskReq{Type: "MOVE_TO", Target: [3]int(dest), Tolerance: tolerance})
}

func (s *Session) StartFollow(ctx context.Context, entityID string, distance float64) (string, error) {
	return s.startTask(ctx, protocol.TaskReq{Type: "FOLLOW", TargetID: entityID, Distance: distance})
}

func (s *Session) StartMine(ctx context.Context, blockPos fleet.Vec3i) (string, error) {
	return s.startTask(ctx, protocol.TaskReq{Type: "MINE", BlockPos: [3]int(blockPos)})
}

func (s *Session) StartCraft(ctx context.Context, recipeID string, count int) (string, error) {
	return s.startTask(ctx, protocol.TaskReq{Type: "CRAFT", RecipeID: recipeID, Count: count})
}

// StopTasks cancels every live world task. Local records for pending
// tasks are removed: after a stop they are stale references, and
// callers that still hold their ids must see them as unknown rather
// than forever pending.
func (s *Session) StopTasks(ctx context.Context) error {
	req := protocol.TaskReq{Type: "STOP", ID: s.newRef()}
	res, err := s.await(ctx, req.ID, func() error {
		return s.sendAct(nil, []protocol.TaskReq{req}, nil)
	})
	if err != nil {
		return err
	}
	if !res.OK {
		return &ActionError{Code: res.Code, Message: res.Message}
	}

	s.pmu.Lock()
	kept := s.taskOrder[:0]
	for _, id := range s.taskOrder {
		if rec, ok := s.tasks[id]; ok && rec.Status == fleet.TaskPending {
			delete(s.tasks, id)
			continue
		}
		kept = append(kept, id)
	}
	s.taskOrder = kept
	s.pmu.Unlock()
	return nil
}
