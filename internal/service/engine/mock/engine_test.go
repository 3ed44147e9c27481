package mock

import (
	"context"
	"io"
	"testing"
	"time"

	"live-transcript-service/internal/service/engine"
)

func readAll(t *testing.T, e *Engine) []engine.Message {
	t.Helper()
	var msgs []engine.Message
	r := engine.NewReader(e.Output())
	for {
		line, err := r.Next()
		if err == io.EOF {
			return msgs
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		msg, err := engine.Decode(line)
		if err != nil {
			t.Fatalf("decode %s: %v", line, err)
		}
		msgs = append(msgs, msg)
	}
}

func TestEngine_RecordsAudioInOrder(t *testing.T) {
	l := NewLauncher(Options{})
	p, err := l.Launch(context.Background(), engine.LaunchArgs{SampleRate: 16000, Channels: 1, BitDepth: 16})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	e := l.Last()
	if e == nil || l.Count() != 1 {
		t.Fatal("expected one launched engine")
	}

	_ = p.Write([]byte{1, 2})
	_ = p.Write([]byte{3})

	if got := e.Received(); string(got) != string([]byte{1, 2, 3}) {
		t.Errorf("received = %v", got)
	}
	if e.Writes() != 2 {
		t.Errorf("writes = %d, want 2", e.Writes())
	}
}

func TestEngine_ExitOnClose(t *testing.T) {
	l := NewLauncher(Options{ExitOnClose: true})
	p, _ := l.Launch(context.Background(), engine.LaunchArgs{})

	if err := p.CloseInput(); err != nil {
		t.Fatalf("close: %v", err)
	}
	msgs := readAll(t, l.Last())

	if len(msgs) != 1 || msgs[0].Type() != engine.TypeComplete {
		t.Fatalf("messages = %v, want [complete]", msgs)
	}
	<-p.Done()
	if p.Status().Code != 0 {
		t.Errorf("exit code = %d", p.Status().Code)
	}
	if err := p.Write([]byte{1}); err == nil {
		t.Error("write after close should fail")
	}
}

func TestEngine_Kill(t *testing.T) {
	l := NewLauncher(Options{})
	p, _ := l.Launch(context.Background(), engine.LaunchArgs{})

	_ = p.Kill()

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("not killed")
	}
	if p.Status().Signal != "killed" {
		t.Errorf("signal = %q", p.Status().Signal)
	}
	if err := l.Last().Emit(engine.Ready{}); err == nil {
		t.Error("emit after exit should fail")
	}
}

func TestEngine_AutoSimulatesConversation(t *testing.T) {
	l := NewLauncher(Options{Auto: true, UtteranceSeconds: 1})
	args := engine.LaunchArgs{SampleRate: 8000, Channels: 1, BitDepth: 16}
	p, _ := l.Launch(context.Background(), args)

	// Two seconds of audio → two utterances.
	_ = p.Write(make([]byte, 32000))
	_ = p.CloseInput()

	msgs := readAll(t, l.Last())

	var finals []engine.Segment
	var speakers []string
	for _, m := range msgs {
		switch v := m.(type) {
		case engine.Segment:
			if v.IsFinal {
				finals = append(finals, v)
			}
		case engine.SpeakerSegment:
			speakers = append(speakers, v.Speaker)
		}
	}

	if msgs[0].Type() != engine.TypeReady {
		t.Errorf("first message = %s, want ready", msgs[0].Type())
	}
	if msgs[len(msgs)-1].Type() != engine.TypeComplete {
		t.Errorf("last message = %s, want complete", msgs[len(msgs)-1].Type())
	}
	if len(finals) != 2 {
		t.Fatalf("finals = %d, want 2", len(finals))
	}
	if finals[0].Text != DefaultUtterances[0].Final || finals[1].Start != 1 {
		t.Errorf("unexpected finals: %+v", finals)
	}
	if len(speakers) != 2 || speakers[0] == speakers[1] {
		t.Errorf("speakers = %v", speakers)
	}
}

func TestLauncher_LaunchError(t *testing.T) {
	l := NewLauncher(Options{LaunchErr: ErrLaunch})
	if _, err := l.Launch(context.Background(), engine.LaunchArgs{}); err != ErrLaunch {
		t.Errorf("err = %v, want ErrLaunch", err)
	}
	if l.Count() != 0 {
		t.Error("no engine should be recorded")
	}
}
