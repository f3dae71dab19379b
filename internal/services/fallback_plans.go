package services

import (
	"strconv"
	"strings"
	"time"

	"fitcrm/internal/models"
)

// Deterministic plan skeletons served when the AI provider is down or
// rate limited. Keyed by goal text so a weight-loss client and a
// muscle-gain client still get sensibly different defaults.

const (
	goalWeightLoss  = "weight_loss"
	goalMuscleGain  = "muscle_gain"
	goalMaintenance = "maintenance"
)

var (
	weightLossWords = []string{"schudnúť", "schudnut", "zhubnout", "weight loss", "chudnutie"}
	muscleGainWords = []string{"svaly", "muscle", "nabrat", "nabrať", "bulk"}
)

func classifyGoal(goal string) string {
	lower := strings.ToLower(goal)
	for _, word := range weightLossWords {
		if strings.Contains(lower, word) {
			return goalWeightLoss
		}
	}
	for _, word := range muscleGainWords {
		if strings.Contains(lower, word) {
			return goalMuscleGain
		}
	}
	return goalMaintenance
}

func fallbackTrainingPlan(client *models.Client, goal string) models.JSONMap {
	goalType := classifyGoal(goal)

	focus := "General Fitness"
	repScheme := "8-12"
	switch goalType {
	case goalWeightLoss:
		focus = "Fat Loss & Conditioning"
		repScheme = "12-15"
	case goalMuscleGain:
		focus = "Hypertrophy"
		repScheme = "6-10"
	}

	day := func(dayFocus string, exercises ...string) map[string]interface{} {
		list := make([]interface{}, 0, len(exercises))
		for _, name := range exercises {
			list = append(list, map[string]interface{}{
				"name": name,
				"sets": 3,
				"reps": repScheme,
				"rest": "90s",
			})
		}
		return map[string]interface{}{"focus": dayFocus, "exercises": list}
	}

	return models.JSONMap{
		"name":          "Starter Plan - " + focus,
		"focus":         focus,
		"durationWeeks": 4,
		"startDate":     time.Now().Format("2006-01-02"),
		"days": map[string]interface{}{
			"monday":    day("Full Body A", "Squat", "Bench Press", "Bent-Over Row", "Plank"),
			"wednesday": day("Full Body B", "Deadlift", "Overhead Press", "Lat Pulldown", "Walking Lunge"),
			"friday":    day("Full Body C", "Leg Press", "Incline Dumbbell Press", "Seated Cable Row", "Farmer Carry"),
		},
	}
}

// fallbackNutritionPlan derives calorie and macro targets with the
// Mifflin-St Jeor formula and a moderate activity multiplier, adjusted
// for the goal bucket.
func fallbackNutritionPlan(client *models.Client, goal string) models.JSONMap {
	weight := client.CurrentWeight
	if weight <= 0 {
		weight = 75
	}
	height := parseHeightCm(client.Height)
	if height <= 0 {
		height = 175
	}
	age := client.Age
	if age <= 0 {
		age = 30
	}

	bmr := 10*weight + 6.25*height - 5*float64(age) + 5
	if client.Gender == "female" {
		bmr = 10*weight + 6.25*height - 5*float64(age) - 161
	}
	tdee := bmr * 1.55

	goalType := classifyGoal(goal)
	calories := int(tdee)
	switch goalType {
	case goalWeightLoss:
		calories = int(tdee - 500)
	case goalMuscleGain:
		calories = int(tdee + 300)
	}

	protein := int(weight * 2.0)
	fat := int(weight * 1.0)
	carbs := (calories - protein*4 - fat*9) / 4
	if carbs < 100 {
		carbs = 100
	}

	mealDay := map[string]interface{}{
		"meals": []interface{}{
			map[string]interface{}{"name": "Breakfast", "time": "08:00", "foods": []interface{}{"Oatmeal with berries", "Greek yogurt"}, "calories": calories * 25 / 100},
			map[string]interface{}{"name": "Lunch", "time": "12:30", "foods": []interface{}{"Chicken breast", "Rice", "Mixed vegetables"}, "calories": calories * 35 / 100},
			map[string]interface{}{"name": "Snack", "time": "16:00", "foods": []interface{}{"Protein shake", "Banana"}, "calories": calories * 10 / 100},
			map[string]interface{}{"name": "Dinner", "time": "19:00", "foods": []interface{}{"Salmon", "Potatoes", "Salad"}, "calories": calories * 30 / 100},
		},
	}
	days := map[string]interface{}{}
	for _, weekday := range []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"} {
		days[weekday] = mealDay
	}

	return models.JSONMap{
		"name":      "Starter Nutrition Plan",
		"weekLabel": "Week 1",
		"targets": map[string]interface{}{
			"calories": calories,
			"protein":  protein,
			"carbs":    carbs,
			"fat":      fat,
		},
		"days": days,
	}
}

func parseHeightCm(height string) float64 {
	trimmed := strings.TrimSpace(strings.ToLower(height))
	trimmed = strings.TrimSuffix(trimmed, "cm")
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return 0
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0
	}
	return value
}
