package models

import (
	"strings"
	"testing"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		want     bool
	}{
		{StatusPending, StatusClaimed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusRunning, false},
		{StatusPending, StatusCompleted, false},
		{StatusClaimed, StatusRunning, true},
		{StatusClaimed, StatusCancelled, true},
		{StatusClaimed, StatusCompleted, false},
		{StatusClaimed, StatusPending, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusRunning, false},
		{StatusCancelled, StatusClaimed, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []TaskStatus{StatusCompleted, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	live := []TaskStatus{StatusPending, StatusClaimed, StatusRunning}
	for _, s := range live {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask("task-1", "write documentation")
	if task.Status != StatusPending {
		t.Errorf("expected pending, got %s", task.Status)
	}
	if task.Priority != 5 {
		t.Errorf("expected default priority 5, got %d", task.Priority)
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
	if err := ValidateStruct(*task); err != nil {
		t.Errorf("default task should validate: %v", err)
	}
}

func TestTaskValidation(t *testing.T) {
	task := NewTask("task-1", "valid description")

	task.Priority = 11
	err := ValidateStruct(*task)
	if err == nil {
		t.Fatal("expected validation error for priority 11")
	}
	if !strings.Contains(err.Error(), "Priority") {
		t.Errorf("expected priority in message, got %v", err)
	}

	task.Priority = 5
	task.Description = "no"
	if err := ValidateStruct(*task); err == nil {
		t.Error("expected validation error for two-character description")
	}

	task.Description = "fine"
	task.Status = "daydreaming"
	if err := ValidateStruct(*task); err == nil {
		t.Error("expected validation error for unknown status")
	}
}
