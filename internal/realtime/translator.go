package realtime

// Kind discriminates container-level from item-level drags.
type Kind string

const (
	KindList Kind = "list"
	KindCard Kind = "card"
)

// DragResult is a raw drag-and-drop outcome: source container and index,
// destination container and index.
type DragResult struct {
	Kind         Kind
	BoardID      string
	EntityID     string
	SourceListID string // empty for list drags
	DestListID   string // empty for list drags and same-list card drags
	SourceIndex  int
	DestIndex    int
}

// MoveRequest is the single outbound request sent to the move executor.
// DestListID is empty for same-container moves.
type MoveRequest struct {
	Kind             Kind
	BoardID          string
	EntityID         string
	DestListID       string
	DestinationIndex int
}

// Translate applies the drag's optimistic mutation to the shared live
// replica, visible to all peers immediately, and returns the move request to
// send. A drag whose source and destination coordinates are identical is a
// no-op: nil request, untouched replica. Translate never retries; a failed
// request is the reconciler's problem.
func Translate(rep *Replica, drag DragResult) (*MoveRequest, error) {
	switch drag.Kind {
	case KindList:
		if drag.SourceIndex == drag.DestIndex {
			return nil, nil
		}
		if err := rep.MoveList(drag.SourceIndex, drag.DestIndex); err != nil {
			return nil, err
		}
		return &MoveRequest{
			Kind:             KindList,
			BoardID:          drag.BoardID,
			EntityID:         drag.EntityID,
			DestinationIndex: drag.DestIndex,
		}, nil

	case KindCard:
		sameList := drag.DestListID == "" || drag.DestListID == drag.SourceListID
		if sameList {
			if drag.SourceIndex == drag.DestIndex {
				return nil, nil
			}
			if err := rep.MoveCardWithin(drag.SourceListID, drag.SourceIndex, drag.DestIndex); err != nil {
				return nil, err
			}
			return &MoveRequest{
				Kind:             KindCard,
				BoardID:          drag.BoardID,
				EntityID:         drag.EntityID,
				DestinationIndex: drag.DestIndex,
			}, nil
		}
		if err := rep.MoveCardAcross(drag.SourceListID, drag.DestListID, drag.SourceIndex, drag.DestIndex); err != nil {
			return nil, err
		}
		return &MoveRequest{
			Kind:             KindCard,
			BoardID:          drag.BoardID,
			EntityID:         drag.EntityID,
			DestListID:       drag.DestListID,
			DestinationIndex: drag.DestIndex,
		}, nil
	}
	return nil, ErrUnknownContainer
}
