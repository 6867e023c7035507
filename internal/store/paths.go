package store

import "fmt"

// UsersPath is the collection root holding every team record.
const UsersPath = "users"

// TeamPath addresses a team's whole record.
func TeamPath(team string) string {
	return UsersPath + "/" + team
}

// PointsPath addresses a team's point total.
func PointsPath(team string) string {
	return TeamPath(team) + "/points"
}

// ProgressPath addresses a team's whole progress map.
func ProgressPath(team string) string {
	return TeamPath(team) + "/progress"
}

// QuestionProgressPath addresses a single solved flag.
func QuestionProgressPath(team, questionID string) string {
	return ProgressPath(team) + "/" + questionID
}

// LevelTimePath addresses a team's persisted elapsed seconds for a level.
func LevelTimePath(team string, level int) string {
	return fmt.Sprintf("%s/levelTimes/%d", TeamPath(team), level)
}
