// Package mcp exposes the learning session as Model Context Protocol tools
// so an assistant can drive lessons, quizzes and challenges.
package mcp

import (
	"context"
	"errors"
	"fmt"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"

	"github.com/felixgeelhaar/pylearn/internal/app"
	"github.com/felixgeelhaar/pylearn/internal/catalog"
	"github.com/felixgeelhaar/pylearn/internal/challenge"
	"github.com/felixgeelhaar/pylearn/internal/domain"
	"github.com/felixgeelhaar/pylearn/internal/progress"
	"github.com/felixgeelhaar/pylearn/internal/quiz"
	"github.com/felixgeelhaar/pylearn/internal/reference"
)

// Server wraps the MCP server with PyLearn functionality
type Server struct {
	mcpServer *server.Server
	ctrl      *app.Controller
	catalog   *catalog.Catalog
}

// Config contains configuration for the MCP server
type Config struct {
	Controller *app.Controller
	Catalog    *catalog.Catalog
	Version    string
}

// NewServer creates a new MCP server for PyLearn
func NewServer(cfg Config) *Server {
	s := &Server{ctrl: cfg.Controller, catalog: cfg.Catalog}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "pylearn",
		Version: version,
	}, server.WithInstructions(`
PyLearn teaches Python through short lessons. Each lesson has a multiple
choice quiz followed by three challenges (easy, medium, hard). A challenge
passes when the program's printed output matches the expected output.

Typical flow:
1. pylearn_lesson to read the current lesson
2. pylearn_quiz_answer for each question, pylearn_quiz_next between them
3. pylearn_start_challenges once the quiz is complete
4. pylearn_run to try code, pylearn_submit to grade it
5. pylearn_progress to see overall completion

Passing all three challenges completes the lesson and moves to the next one.
`))

	s.registerTools()

	return s
}

// registerTools registers all PyLearn MCP tools
func (s *Server) registerTools() {
	s.mcpServer.Tool("pylearn_lesson").
		Description("Show the current lesson, or switch to lesson_id when given.").
		Handler(s.handleLesson)

	s.mcpServer.Tool("pylearn_quiz_answer").
		Description("Answer the current quiz question with a zero-based option index.").
		Handler(s.handleQuizAnswer)

	s.mcpServer.Tool("pylearn_quiz_next").
		Description("Move to the next quiz question after an answer was checked.").
		Handler(s.handleQuizNext)

	s.mcpServer.Tool("pylearn_start_challenges").
		Description("Finish the quiz and unlock the lesson challenges.").
		Handler(s.handleStartChallenges)

	s.mcpServer.Tool("pylearn_challenge").
		Description("Switch to the easy, medium or hard challenge of the lesson.").
		Handler(s.handleChallenge)

	s.mcpServer.Tool("pylearn_run").
		Description("Run Python code and return its output without grading.").
		Handler(s.handleRun)

	s.mcpServer.Tool("pylearn_submit").
		Description("Grade Python code against the current challenge.").
		Handler(s.handleSubmit)

	s.mcpServer.Tool("pylearn_progress").
		Description("Show completed lessons and overall percentage.").
		Handler(s.handleProgress)

	s.mcpServer.Tool("pylearn_reset").
		Description("Erase all progress and return to lesson 1.").
		Handler(s.handleReset)

	s.mcpServer.Tool("pylearn_reference").
		Description("Show the quick reference sheet of a lesson.").
		Handler(s.handleReference)
}

// Input/Output types for tools

type LessonInput struct {
	LessonID int `json:"lesson_id,omitempty" jsonschema:"description=Lesson to open (omit for the current lesson)"`
}

type LessonOutput struct {
	Lesson    app.LessonView     `json:"lesson"`
	Phase     app.Phase          `json:"phase"`
	Quiz      *app.QuizView      `json:"quiz,omitempty"`
	Challenge *app.ChallengeView `json:"challenge,omitempty"`
	Feedback  string             `json:"feedback,omitempty"`
}

type QuizAnswerInput struct {
	Option int `json:"option" jsonschema:"description=Zero-based index of the chosen option"`
}

type EmptyInput struct{}

type StartOutput struct {
	Message string `json:"message"`
	Score   string `json:"score"`
}

type ChallengeInput struct {
	Difficulty string `json:"difficulty" jsonschema:"description=Challenge tier,enum=easy,enum=medium,enum=hard"`
}

type CodeInput struct {
	Code string `json:"code" jsonschema:"description=Python source to execute"`
}

type ProgressOutput struct {
	Summary progress.Summary `json:"summary"`
	Lessons []app.NavItem    `json:"lessons"`
}

type ResetOutput struct {
	Message string `json:"message"`
	Lesson  int    `json:"lesson"`
}

type ReferenceInput struct {
	LessonID int `json:"lesson_id,omitempty" jsonschema:"description=Lesson whose reference to show (omit for the current lesson)"`
}

// Tool handlers

func (s *Server) handleLesson(ctx context.Context, input LessonInput) (LessonOutput, error) {
	if input.LessonID != 0 {
		if err := s.ctrl.LoadLesson(ctx, input.LessonID); err != nil {
			return LessonOutput{}, fmt.Errorf("load lesson %d: %w", input.LessonID, err)
		}
	}
	return s.lessonOutput(ctx), nil
}

func (s *Server) lessonOutput(ctx context.Context) LessonOutput {
	vm := s.ctrl.View(ctx)
	out := LessonOutput{
		Lesson:    vm.Lesson,
		Phase:     vm.Phase,
		Quiz:      vm.Quiz,
		Challenge: vm.Challenge,
	}
	if vm.Feedback != nil {
		out.Feedback = vm.Feedback.Message
	}
	return out
}

func (s *Server) handleQuizAnswer(ctx context.Context, input QuizAnswerInput) (quiz.Result, error) {
	if err := s.ctrl.SelectOption(input.Option); err != nil {
		return quiz.Result{}, fmt.Errorf("select option: %w", err)
	}
	res, err := s.ctrl.CheckAnswer()
	if err != nil {
		return quiz.Result{}, fmt.Errorf("check answer: %w", err)
	}
	return res, nil
}

func (s *Server) handleQuizNext(ctx context.Context, _ EmptyInput) (LessonOutput, error) {
	if err := s.ctrl.NextQuestion(); err != nil {
		return LessonOutput{}, fmt.Errorf("next question: %w", err)
	}
	return s.lessonOutput(ctx), nil
}

func (s *Server) handleStartChallenges(ctx context.Context, _ EmptyInput) (StartOutput, error) {
	if err := s.ctrl.StartChallenges(ctx); err != nil {
		return StartOutput{}, fmt.Errorf("start challenges: %w", err)
	}

	// The phase switch is delayed, so the score comes from the session
	sess := s.ctrl.Session()
	lesson, err := s.catalog.Lesson(sess.LessonID)
	if err != nil {
		return StartOutput{}, err
	}
	return StartOutput{
		Message: "Quiz complete. The easy challenge opens next.",
		Score:   fmt.Sprintf("%d/%d", sess.QuizScore, len(lesson.Quiz)),
	}, nil
}

func (s *Server) handleChallenge(ctx context.Context, input ChallengeInput) (LessonOutput, error) {
	d, err := domain.ParseDifficulty(input.Difficulty)
	if err != nil {
		return LessonOutput{}, err
	}
	if err := s.ctrl.LoadChallenge(ctx, d); err != nil {
		return LessonOutput{}, fmt.Errorf("load challenge: %w", err)
	}
	return s.lessonOutput(ctx), nil
}

func (s *Server) handleRun(ctx context.Context, input CodeInput) (challenge.Outcome, error) {
	out, err := s.ctrl.Run(ctx, input.Code)
	if err != nil {
		return challenge.Outcome{}, fmt.Errorf("run failed: %w", err)
	}
	return out, nil
}

func (s *Server) handleSubmit(ctx context.Context, input CodeInput) (challenge.Outcome, error) {
	out, err := s.ctrl.Submit(ctx, input.Code)
	if err != nil && !errors.Is(err, challenge.ErrNoChallenge) {
		return challenge.Outcome{}, fmt.Errorf("submit failed: %w", err)
	}
	return out, nil
}

func (s *Server) handleProgress(ctx context.Context, _ EmptyInput) (ProgressOutput, error) {
	vm := s.ctrl.View(ctx)
	return ProgressOutput{
		Summary: vm.Progress,
		Lessons: vm.Navigation,
	}, nil
}

func (s *Server) handleReset(ctx context.Context, _ EmptyInput) (ResetOutput, error) {
	if err := s.ctrl.ResetProgress(ctx); err != nil {
		return ResetOutput{}, fmt.Errorf("reset progress: %w", err)
	}
	sess := s.ctrl.Session()
	return ResetOutput{
		Message: sess.Feedback,
		Lesson:  sess.LessonID,
	}, nil
}

func (s *Server) handleReference(ctx context.Context, input ReferenceInput) (reference.View, error) {
	id := input.LessonID
	if id == 0 {
		id = s.ctrl.Session().LessonID
	}
	return s.ctrl.Reference(id)
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
