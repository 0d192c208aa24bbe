package intake

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/cuemby/contour/pkg/types"
)

var validate = validator.New()

// cellDTO is the wire shape of one CellID.
type cellDTO struct {
	X    int `json:"x"`
	Y    int `json:"y"`
	Zoom int `json:"zoom"`
}

// rectDTO is the wire shape of a bounding rectangle.
type rectDTO struct {
	MinX int `json:"min_x"`
	MinY int `json:"min_y"`
	MaxX int `json:"max_x" validate:"gtefield=MinX"`
	MaxY int `json:"max_y" validate:"gtefield=MinY"`
}

// startTaskRequest is the POST /tasks payload: a scenario id plus one of
// a cell list or a bounding rect. Which shape is required is down to the
// named scenario's declared input kind, checked downstream by
// taskmanager.StartTask via scenario.Scenario.CheckInput — this struct
// only enforces the shapes that were actually sent are well-formed.
type startTaskRequest struct {
	ScenarioID string    `json:"scenario_id" validate:"required,uuid"`
	Username   string    `json:"username" validate:"required"`
	Cells      []cellDTO `json:"cells,omitempty" validate:"omitempty,dive"`
	Rect       *rectDTO  `json:"rect,omitempty" validate:"omitempty"`
}

func (req *startTaskRequest) taskInput() (types.TaskInput, error) {
	switch {
	case req.Rect != nil && len(req.Cells) > 0:
		return types.TaskInput{}, fmt.Errorf("request carries both cells and rect, exactly one is expected")
	case req.Rect != nil:
		return types.TaskInput{
			Username: req.Username,
			Kind:     types.InputKindRect,
			Rect:     types.Rect{MinX: req.Rect.MinX, MinY: req.Rect.MinY, MaxX: req.Rect.MaxX, MaxY: req.Rect.MaxY},
		}, nil
	case len(req.Cells) > 0:
		cells := make([]types.CellID, len(req.Cells))
		for i, c := range req.Cells {
			cells[i] = types.CellID{X: c.X, Y: c.Y, Zoom: c.Zoom}
		}
		return types.TaskInput{Username: req.Username, Kind: types.InputKindCells, Cells: cells}, nil
	default:
		return types.TaskInput{}, fmt.Errorf("request carries neither cells nor rect")
	}
}

// startTaskResponse mirrors spec.md §6's start_task(scenario_id, payload)
// → (bool, message) return shape.
type startTaskResponse struct {
	OK      bool   `json:"ok"`
	TaskID  string `json:"task_id,omitempty"`
	Message string `json:"message"`
}
