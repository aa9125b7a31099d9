package coach

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	mcp "github.com/adhdone/adhdone-mcp"
)

type stepPlan struct {
	keywords []string
	steps    []string
}

type helpMeStartData struct {
	Task    string
	Feeling string
	Caller  string
}

type breakDownTaskData struct {
	Task  string
	Steps []string
}

type startTimerData struct {
	Task    string
	Minutes float64
}

type completeTaskData struct {
	Task        string
	Celebration string
	HowItWent   string
}

// Plans are matched in order against the lowercased task; the first hit wins.
var stepPlans = []stepPlan{
	{
		keywords: []string{"clean", "tidy"},
		steps: []string{
			"🎯 Stand up and walk to the room (30 sec)",
			"👀 Look around and pick ONE surface to focus on (30 sec)",
			"🗑️ Grab 5 items that are rubbish and bin them (2 min)",
			"📦 Put 5 things back where they belong (2 min)",
			"✨ Wipe down that ONE surface (2 min)",
		},
	},
	{
		keywords: []string{"email", "inbox"},
		steps: []string{
			"📧 Open your email app (30 sec)",
			"🗑️ Delete 5 obvious spam/junk emails (1 min)",
			"⭐ Star 3 emails that actually need replies (1 min)",
			"✍️ Reply to ONE email - just 2-3 sentences (3 min)",
			"🎉 Close email. You did something!",
		},
	},
	{
		keywords: []string{"study", "homework", "assignment"},
		steps: []string{
			"📚 Get your materials out on the desk (1 min)",
			"📖 Open to the right page/document (30 sec)",
			"👁️ Read just the first paragraph/section (2 min)",
			"✏️ Write ONE sentence about what you read (2 min)",
			"🎯 Decide: continue or take a 2-min break?",
		},
	},
}

var genericSteps = []string{
	"🎯 Think: What's the very first physical action? (1 min)",
	"👣 Do that first action - nothing else (2 min)",
	"✅ Notice: You started! That's the hardest part",
	"🔄 What's the next tiny step? (2 min)",
	"🎉 Keep going or celebrate what you did!",
}

var celebrations = []string{
	"🎉 **YES! You did it!**",
	"🌟 **Amazing! Look at you go!**",
	"🚀 **Task CRUSHED!**",
	"💪 **That's what I'm talking about!**",
	"✨ **Incredible! You started AND finished!**",
}

const templates = `
{{- define "help_me_start" -}}
🧠 **ADHDone is here to help!**

I hear you - "{{ .Task }}" feels overwhelming right now. That's completely normal.
{{- with .Feeling }}

Feeling {{ . | lower }} about it makes sense. We'll keep this gentle.
{{- end }}

**Let's make this tiny:**
What's the absolute smallest first step? Something you could do in 2 minutes or less?

For example, if your task is "clean the kitchen", the tiniest step might be:
- Pick up 5 things from the counter
- Or just... walk to the kitchen and look at it

What feels doable right now?

---
*User tracking working: {{ .Caller | default "unknown" }}...*
{{- end }}

{{- define "break_down_task" -}}
## Breaking down: "{{ .Task }}"

Here are tiny, ADHD-friendly steps:

{{ range $i, $step := .Steps }}{{ add1 $i }}. {{ $step }}
{{ end }}
---

**Ready to start?** Just do step 1. Nothing else matters right now.

Would you like me to start a timer for the first step?
{{- end }}

{{- define "start_timer" -}}
## ⏱️ Timer Started: {{ .Minutes }} minutes

**Your focus task:** {{ .Task }}

---

🎯 **Just this ONE thing.** Nothing else exists right now.

When you're done (or the time is up), tell me and we'll celebrate!

---
*[Timer widget coming soon - for now, use your phone timer!]*
{{- end }}

{{- define "complete_task" -}}
{{ .Celebration }}

You completed: **{{ .Task }}**

---

Remember: With ADHD, starting is the hardest part. You didn't just do a task - you **beat the paralysis**. That's huge.
{{ with .HowItWent }}
You said: "{{ . }}"
{{ end }}
---

**What now?**
- 🔄 Want to tackle another micro-task?
- ☕ Take a well-deserved break?

---
*Streak: 1 day (tracking coming soon)*
{{- end }}
`

// Tools implements mcp.ToolProvider. The order is the order of tools/list.
func (s *Server) Tools() []mcp.ToolBinding {
	return []mcp.ToolBinding{
		mcp.NewStructuredTool("help_me_start",
			"Helps the user take the very first, tiny step on a task that feels overwhelming",
			s.helpMeStart),
		mcp.NewStructuredTool("break_down_task",
			"Breaks a task into five ADHD-friendly micro-steps of two minutes or less",
			s.breakDownTask),
		mcp.NewStructuredTool("start_timer",
			"Starts a short focus timer for a single task (defaults to 5 minutes)",
			s.startTimer),
		mcp.NewStructuredTool("complete_task",
			"Celebrates a finished task and suggests what to do next",
			s.completeTask),
	}
}

func (s *Server) helpMeStart(ctx context.Context, args HelpMeStartArgs) (HelpMeStartOutput, error) {
	s.logCall(ctx, "help_me_start", slog.String("task", string(args.Task)))

	msg, err := s.render("help_me_start", helpMeStartData{
		Task:    taskOrDefault(args.Task),
		Feeling: strings.TrimSpace(string(args.Feeling)),
		Caller:  displayCaller(callerOrUnknown(ctx)),
	})
	return HelpMeStartOutput{Message: msg}, err
}

func (s *Server) breakDownTask(ctx context.Context, args BreakDownTaskArgs) (BreakDownTaskOutput, error) {
	s.logCall(ctx, "break_down_task", slog.String("task", string(args.Task)))

	task := taskOrDefault(args.Task)
	steps := StepsFor(string(args.Task))
	msg, err := s.render("break_down_task", breakDownTaskData{
		Task:  task,
		Steps: steps,
	})
	return BreakDownTaskOutput{Task: task, MicroTasks: steps, Message: msg}, err
}

func (s *Server) startTimer(ctx context.Context, args StartTimerArgs) (StartTimerOutput, error) {
	minutes := float64(args.Minutes)
	if minutes <= 0 {
		minutes = defaultTimerMinutes
	}
	s.logCall(ctx, "start_timer", slog.String("task", string(args.Task)), slog.Float64("minutes", minutes))

	task := taskOrDefault(args.Task)
	msg, err := s.render("start_timer", startTimerData{
		Task:    task,
		Minutes: minutes,
	})
	return StartTimerOutput{Task: task, Minutes: minutes, Message: msg}, err
}

func (s *Server) completeTask(ctx context.Context, args CompleteTaskArgs) (CompleteTaskOutput, error) {
	s.logCall(ctx, "complete_task", slog.String("task", string(args.Task)))

	task := taskOrDefault(args.Task)
	celebration := celebrations[s.pick(len(celebrations))]
	msg, err := s.render("complete_task", completeTaskData{
		Task:        task,
		Celebration: celebration,
		HowItWent:   strings.TrimSpace(string(args.HowItWent)),
	})
	return CompleteTaskOutput{Task: task, Celebration: celebration, Message: msg}, err
}

// StepsFor returns the micro-steps for task, chosen by keyword. The slice is a copy.
func StepsFor(task string) []string {
	lower := strings.ToLower(task)
	for _, plan := range stepPlans {
		for _, kw := range plan.keywords {
			if strings.Contains(lower, kw) {
				return slices.Clone(plan.steps)
			}
		}
	}
	return slices.Clone(genericSteps)
}

// Celebrations returns a copy of the openers complete_task chooses from.
func Celebrations() []string {
	return slices.Clone(celebrations)
}

func (s *Server) render(name string, data any) (string, error) {
	var b strings.Builder
	if err := s.templates.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return b.String(), nil
}

func (s *Server) logCall(ctx context.Context, tool string, attrs ...any) {
	attrs = append([]any{
		slog.String("tool", tool),
		slog.String("caller", mcp.TruncateCallerID(callerOrUnknown(ctx))),
	}, attrs...)
	s.logger.InfoContext(ctx, "tool called", attrs...)
}

func taskOrDefault(task Text) string {
	if t := strings.TrimSpace(string(task)); t != "" {
		return t
	}
	return defaultTask
}

// displayCaller cuts id to its first callerDisplayLength runes.
func displayCaller(id string) string {
	runes := []rune(id)
	if len(runes) <= callerDisplayLength {
		return id
	}
	return string(runes[:callerDisplayLength])
}

func callerOrUnknown(ctx context.Context) string {
	if id := mcp.CallerID(ctx); id != "" {
		return id
	}
	return unknownCaller
}
