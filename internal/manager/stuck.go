package manager

import (
	"context"
	"fmt"
	"time"

	"hive/internal/detector"
	"hive/internal/store"
)

// nudgeEnvelope wraps every manager-originated message so the State
// Detector (and a human skimming the transcript) can tell it apart from
// the agent's own output (spec §4.3.2a).
const nudgeEnvelope = "[manager reminder] %s"

// checkStuckNudgeEscalate implements spec §4.3.2: capture each live
// worker session, classify it, and apply the nudge / escalate /
// auto-recover policy.
func (d *Daemon) checkStuckNudgeEscalate(ctx context.Context) error {
	agents, err := d.store.ListLiveAgents(ctx)
	if err != nil {
		return err
	}

	for _, a := range agents {
		if a.SessionName == "" || !d.supervisor.IsRunning(a.SessionName) {
			continue
		}

		output, err := d.supervisor.CapturePane(a.SessionName, d.cfg.CaptureLines)
		if err != nil {
			d.log.Warn("stuck check: capture failed", "session", a.SessionName, "error", err)
			continue
		}

		class, err := detector.Classify(a.CLIFlavour, output)
		if err != nil {
			d.log.Warn("stuck check: no detector for flavour", "flavour", a.CLIFlavour, "error", err)
			continue
		}

		track := d.trackFor(a.SessionName, output)

		if err := d.store.TouchLastSeen(ctx, a.ID); err != nil {
			d.log.Warn("stuck check: touch last_seen failed", "agent", a.ID, "error", err)
		}

		if err := d.applyPolicy(ctx, a, class, track); err != nil {
			d.log.Warn("stuck check: policy application failed", "agent", a.ID, "error", err)
		}
	}

	return nil
}

// trackFor returns the session's in-memory tracker, updating
// unchangedSince whenever the captured output differs from last time.
func (d *Daemon) trackFor(session, output string) *sessionTrack {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.sessions[session]
	now := time.Now().UTC()
	if !ok {
		t = &sessionTrack{lastOutput: output, unchangedSince: now}
		d.sessions[session] = t
		return t
	}
	if t.lastOutput != output {
		t.lastOutput = output
		t.unchangedSince = now
		t.completionSent = false
	}
	return t
}

func (d *Daemon) applyPolicy(ctx context.Context, a store.Agent, class detector.Classification, track *sessionTrack) error {
	switch class.State {
	case detector.PermissionReq, detector.AwaitingSelection, detector.AskingQuestion, detector.UserDeclined:
		return d.escalateHuman(ctx, a, class)

	case detector.RateLimited:
		return d.nudge(ctx, a.SessionName, "you appear to be rate limited; sleep 60 && resume, then press enter")

	case detector.Interrupted:
		storyRef := a.CurrentStoryID
		return d.nudge(ctx, a.SessionName, fmt.Sprintf("you were interrupted; your current story is %s, finish it and submit its PR", storyRef))

	case detector.WorkComplete:
		return d.handleWorkComplete(ctx, a, track)

	case detector.IdleAtPrompt, detector.Unknown:
		return d.handleIdleOrUnknown(ctx, a, class, track)

	case detector.ToolRunning, detector.Typing:
		// Visibly working; do nothing (spec §4.3.2).
		return nil
	}
	return nil
}

func (d *Daemon) handleWorkComplete(ctx context.Context, a store.Agent, track *sessionTrack) error {
	d.mu.Lock()
	already := track.completionSent
	if !already {
		track.completionSent = true
	}
	d.mu.Unlock()

	if already {
		return nil
	}
	return d.nudge(ctx, a.SessionName, "nice work, it looks complete; confirm the pull request is submitted")
}

// handleIdleOrUnknown defers reminders until the static inactivity window
// elapses, then nudges. UNKNOWN is only ever treated as stuck when the
// detector reports isWaiting == false (spec §4.3.2b).
func (d *Daemon) handleIdleOrUnknown(ctx context.Context, a store.Agent, class detector.Classification, track *sessionTrack) error {
	d.mu.Lock()
	unchangedFor := time.Since(track.unchangedSince)
	d.mu.Unlock()

	if unchangedFor < d.cfg.StaticInactivityMs {
		return nil
	}
	if class.State == detector.Unknown && class.IsWaiting {
		return nil
	}
	return d.nudge(ctx, a.SessionName, "you've been idle a while; here are your available commands: continue your current story, or report a blocker")
}

// nudge delivers a wrapped reminder, suppressed while within cooldown of a
// prior nudge to the same session (spec §4.3.2a).
func (d *Daemon) nudge(ctx context.Context, sessionName, text string) error {
	d.mu.Lock()
	track, ok := d.sessions[sessionName]
	if ok && time.Since(track.lastNudge) < d.cfg.NudgeCooldown {
		d.mu.Unlock()
		return nil
	}
	if ok {
		track.lastNudge = time.Now().UTC()
	}
	d.mu.Unlock()

	confirmed, err := d.supervisor.SendMessageWithConfirmation(sessionName, fmt.Sprintf(nudgeEnvelope, text), 3*time.Second)
	if err != nil {
		return err
	}
	if !confirmed {
		d.log.Warn("nudge: session output did not change after send", "session", sessionName)
	}
	return nil
}

// escalateHuman files a pending human escalation, deduped on the agent
// within the escalation cooldown window (spec §4.3.2).
func (d *Daemon) escalateHuman(ctx context.Context, a store.Agent, class detector.Classification) error {
	guidance := stateGuidance(class.State)
	esc := &store.Escalation{
		StoryID:     a.CurrentStoryID,
		FromAgentID: a.ID,
		Reason:      fmt.Sprintf("%s: %s", class.State, guidance),
	}
	created, err := d.store.CreateEscalation(ctx, esc, d.cfg.EscalationCooldown)
	if err != nil {
		return err
	}
	if created {
		if nerr := d.notifier.EscalationCreated(ctx, esc.ID, esc.Reason); nerr != nil {
			d.log.Warn("escalateHuman: notify failed", "error", nerr)
		}
	}
	return nil
}

func stateGuidance(s detector.State) string {
	switch s {
	case detector.AwaitingSelection:
		return "agent is waiting on a menu selection, e.g. select option 2"
	case detector.PermissionReq:
		return "agent requires permission to proceed"
	case detector.AskingQuestion:
		return "agent is asking a clarifying question"
	case detector.UserDeclined:
		return "agent's prior request was declined and it is now blocked"
	default:
		return "agent requires human attention"
	}
}
