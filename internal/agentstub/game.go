package agentstub

// Point is a board coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Snake is one snake on the board.
type Snake struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Health int     `json:"health"`
	Body   []Point `json:"body"`
	Head   Point   `json:"head"`
	Length int     `json:"length"`
}

// Board is the playing field.
type Board struct {
	Height int     `json:"height"`
	Width  int     `json:"width"`
	Food   []Point `json:"food"`
	Snakes []Snake `json:"snakes"`
}

// GameState is the request body for /start, /move and /end.
type GameState struct {
	Game struct {
		ID string `json:"id"`
	} `json:"game"`
	Turn  int   `json:"turn"`
	Board Board `json:"board"`
	You   Snake `json:"you"`
}

var directions = []struct {
	name string
	dx   int
	dy   int
}{
	{"up", 0, 1},
	{"right", 1, 0},
	{"down", 0, -1},
	{"left", -1, 0},
}

// ChooseMove returns the first direction that stays on the board and off
// every snake body. Tails are treated as occupied.
func ChooseMove(state GameState) string {
	occupied := map[Point]struct{}{}
	for _, snake := range state.Board.Snakes {
		for _, p := range snake.Body {
			occupied[p] = struct{}{}
		}
	}
	for _, p := range state.You.Body {
		occupied[p] = struct{}{}
	}
	head := state.You.Head
	for _, dir := range directions {
		next := Point{X: head.X + dir.dx, Y: head.Y + dir.dy}
		if next.X < 0 || next.Y < 0 || next.X >= state.Board.Width || next.Y >= state.Board.Height {
			continue
		}
		if _, taken := occupied[next]; taken {
			continue
		}
		return dir.name
	}
	return "up"
}
