package patchaction

import "github.com/fentz26/patchward/internal/models"

// BuildReverse returns the arguments that undo a fix made with args.
func BuildReverse(args models.PatchArgs) models.PatchArgs {
	return models.PatchArgs{
		File:    args.File,
		Patch:   args.Patch,
		Reverse: !args.Reverse,
	}
}

// UndoActions wraps the reverse descriptor of a needs-fixing check into the
// undo list returned with it.
func UndoActions(reverse models.PatchArgs) []models.UndoAction {
	return []models.UndoAction{{Name: models.PatchActionName, Args: reverse}}
}
