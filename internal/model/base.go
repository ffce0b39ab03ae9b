package model

// JSONMap represents a generic JSON object, used for raw collection dumps
// where the field set varies per record.
type JSONMap map[string]interface{}
