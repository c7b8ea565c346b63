// Package questions holds the static quiz deck. The deck is loaded once at
// startup, either the built-in nephrology set or a JSON file, and is
// immutable for the life of the process.
package questions

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/medquiz/kidneyrace/internal/domain"
)

// Load returns the deck from the given JSON file, or the default deck when
// path is empty.
func Load(path string) ([]domain.Question, error) {
	if path == "" {
		return Default(), nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("questions: read %s: %w", path, err)
	}

	var raw []struct {
		Question   string   `json:"question"`
		Options    []string `json:"options"`
		Correct    int      `json:"correct"`
		Points     int      `json:"points"`
		Time       int      `json:"time"`
		Difficulty int      `json:"difficulty"`
		Type       string   `json:"type"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("questions: parse %s: %w", path, err)
	}

	deck := make([]domain.Question, 0, len(raw))
	for i, q := range raw {
		qq := domain.Question{
			Text:       q.Question,
			Options:    q.Options,
			Correct:    q.Correct,
			Points:     q.Points,
			TimeLimit:  time.Duration(q.Time) * time.Second,
			Difficulty: q.Difficulty,
			Category:   q.Type,
		}
		if err := validate(qq); err != nil {
			return nil, fmt.Errorf("questions: entry %d: %w", i, err)
		}
		deck = append(deck, qq)
	}

	if len(deck) == 0 {
		return nil, fmt.Errorf("questions: %s contains no questions", path)
	}

	return deck, nil
}

func validate(q domain.Question) error {
	switch {
	case q.Text == "":
		return fmt.Errorf("empty question text")
	case len(q.Options) < 2:
		return fmt.Errorf("need at least 2 options, got %d", len(q.Options))
	case q.Correct < 0 || q.Correct >= len(q.Options):
		return fmt.Errorf("correct index %d out of range [0,%d)", q.Correct, len(q.Options))
	case q.Points <= 0:
		return fmt.Errorf("points must be positive, got %d", q.Points)
	case q.TimeLimit <= 0:
		return fmt.Errorf("time limit must be positive, got %s", q.TimeLimit)
	}

	return nil
}

// Default returns the built-in championship deck.
func Default() []domain.Question {
	return []domain.Question{
		{
			Category:   "⚡ DESAFÍO RELÁMPAGO",
			Difficulty: 2,
			TimeLimit:  20 * time.Second,
			Text:       "¿Qué estructura del nefrón es responsable de la filtración selectiva de proteínas plasmáticas?",
			Options:    []string{"Cápsula de Bowman", "Barrera de filtración glomerular", "Túbulo contorneado proximal", "Asa de Henle"},
			Correct:    1,
			Points:     15,
		},
		{
			Category:   "🧩 IDENTIFICACIÓN",
			Difficulty: 2,
			TimeLimit:  20 * time.Second,
			Text:       "¿Cuál es la hormona que regula la reabsorción de sodio en el túbulo distal?",
			Options:    []string{"ADH", "Aldosterona", "Eritropoyetina", "Renina"},
			Correct:    1,
			Points:     15,
		},
		{
			Category:   "🚀 BONUS RACE",
			Difficulty: 4,
			TimeLimit:  25 * time.Second,
			Text:       "En la acidosis metabólica, ¿qué células del túbulo distal secretan H+ y reabsorben HCO3-?",
			Options:    []string{"Células principales", "Células intercaladas tipo A", "Células intercaladas tipo B", "Podocitos"},
			Correct:    1,
			Points:     30,
		},
		{
			Category:   "⚡ DESAFÍO RELÁMPAGO",
			Difficulty: 3,
			TimeLimit:  20 * time.Second,
			Text:       "¿Qué valor de clearance de creatinina indica insuficiencia renal crónica estadio 3?",
			Options:    []string{"90-120 mL/min", "60-89 mL/min", "30-59 mL/min", "15-29 mL/min"},
			Correct:    2,
			Points:     20,
		},
		{
			Category:   "🧩 IDENTIFICACIÓN",
			Difficulty: 3,
			TimeLimit:  25 * time.Second,
			Text:       "¿Qué transportador en el túbulo proximal es inhibido por los diuréticos de asa?",
			Options:    []string{"NCC", "NKCC2", "ENaC", "AQP2"},
			Correct:    1,
			Points:     20,
		},
		{
			Category:   "🚀 BONUS RACE",
			Difficulty: 5,
			TimeLimit:  30 * time.Second,
			Text:       "¿Cuál es el mecanismo de retroalimentación tubuloglomerular que regula la TFG?",
			Options:    []string{"Mácula densa → renina", "Mácula densa → adenosina → vasoconstricción", "Podocitos → óxido nítrico", "Mesangio → endotelina"},
			Correct:    1,
			Points:     40,
		},
		{
			Category:   "⚡ DESAFÍO RELÁMPAGO",
			Difficulty: 2,
			TimeLimit:  20 * time.Second,
			Text:       "¿Qué célula del aparato yuxtaglomerular secreta renina?",
			Options:    []string{"Células de la mácula densa", "Células yuxtaglomerulares", "Células mesangiales", "Podocitos"},
			Correct:    1,
			Points:     15,
		},
		{
			Category:   "🧩 IDENTIFICACIÓN",
			Difficulty: 3,
			TimeLimit:  25 * time.Second,
			Text:       "¿Qué estructura permite la concentración de orina mediante el mecanismo de contracorriente?",
			Options:    []string{"Glomérulo", "Túbulo proximal", "Asa de Henle", "Túbulo distal"},
			Correct:    2,
			Points:     20,
		},
		{
			Category:   "🚀 BONUS RACE",
			Difficulty: 5,
			TimeLimit:  35 * time.Second,
			Text:       "En la enfermedad renal crónica, ¿a partir de qué estadio se debe considerar diálisis?",
			Options:    []string{"Estadio 3 (TFG 30-59)", "Estadio 4 (TFG 15-29)", "Estadio 5 (TFG <15)", "Cualquier estadio con síntomas"},
			Correct:    2,
			Points:     45,
		},
		{
			Category:   "⚡ DESAFÍO RELÁMPAGO",
			Difficulty: 2,
			TimeLimit:  20 * time.Second,
			Text:       "¿Qué hormona estimula la síntesis de eritropoyetina?",
			Options:    []string{"Hipoxia", "Hipercapnia", "Hiponatremia", "Hipercalemia"},
			Correct:    0,
			Points:     15,
		},
	}
}
