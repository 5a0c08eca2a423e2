package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/tinyrange/virq/internal/vgic"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Scenario describes one stress run.
type Scenario struct {
	CPUs    int `yaml:"cpus"`
	SPIs    int `yaml:"spis"`
	Workers int `yaml:"workers"`
	Events  int `yaml:"events"`

	// EdgeShare is the fraction of shared lines configured edge-triggered.
	EdgeShare float64 `yaml:"edgeShare,omitempty"`

	Seed int64 `yaml:"seed,omitempty"`
}

func (s *Scenario) normalize() {
	if s.CPUs == 0 {
		s.CPUs = 4
	}
	if s.SPIs == 0 {
		s.SPIs = 64
	}
	if s.Workers == 0 {
		s.Workers = 8
	}
	if s.Events == 0 {
		s.Events = 200000
	}
	if s.EdgeShare == 0 {
		s.EdgeShare = 0.5
	}
	if s.Seed == 0 {
		s.Seed = time.Now().UnixNano()
	}
}

func loadScenario(path string) (*Scenario, error) {
	s := &Scenario{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read scenario: %w", err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parse scenario: %w", err)
		}
	}
	s.normalize()
	return s, nil
}

type worker struct {
	dist *vgic.Distributor
	cfg  *Scenario
	rng  *rand.Rand

	injected  *atomic.Int64
	completed *atomic.Int64
}

func (w *worker) spi() uint32 {
	return vgic.NumPrivateIRQs + uint32(w.rng.Intn(w.cfg.SPIs))
}

func (w *worker) cpu() int {
	return w.rng.Intn(w.cfg.CPUs)
}

func (w *worker) step() error {
	switch w.rng.Intn(10) {
	case 0, 1, 2, 3: // inject a transition
		if err := w.dist.Inject(-1, w.spi(), w.rng.Intn(2) == 0); err != nil {
			return err
		}
		w.injected.Add(1)

	case 4, 5, 6: // service one queued interrupt on a random vCPU
		cpu := w.cpu()
		ready, err := w.dist.Ready(cpu)
		if err != nil {
			return err
		}
		if len(ready) == 0 {
			return nil
		}
		intid := ready[0]
		// Ack then retire, the way the guest-register path would.
		if err := w.dist.SetActive(cpu, intid, true); err != nil {
			return err
		}
		// Deassert level lines so retirement does not instantly requeue.
		_ = w.dist.Inject(-1, intid, false)
		if err := w.dist.Complete(cpu, intid); err != nil {
			return err
		}
		w.completed.Add(1)

	case 7: // reroute a shared line
		if err := w.dist.SetTargetVCPU(w.spi(), w.cpu()); err != nil {
			return err
		}

	case 8: // flip a line's enable gate
		if err := w.dist.SetEnabled(-1, w.spi(), w.rng.Intn(4) != 0); err != nil {
			return err
		}

	case 9: // software pend
		if err := w.dist.SetSoftPending(-1, w.spi(), w.rng.Intn(2) == 0); err != nil {
			return err
		}
	}
	return nil
}

func run() error {
	config := flag.String("config", "", "YAML scenario file (defaults apply when omitted)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	cfg, err := loadScenario(*config)
	if err != nil {
		return err
	}

	fmt.Printf("irqstress: cpus=%d spis=%d workers=%d events=%d seed=%d\n",
		cfg.CPUs, cfg.SPIs, cfg.Workers, cfg.Events, cfg.Seed)

	wakes := make([]atomic.Int64, cfg.CPUs)
	dist, err := vgic.New(cfg.CPUs, func(cpuID int) {
		wakes[cpuID].Add(1)
	})
	if err != nil {
		return err
	}
	if err := dist.ConfigureSPIs(cfg.SPIs); err != nil {
		return err
	}

	setup := rand.New(rand.NewSource(cfg.Seed))
	for i := 0; i < cfg.SPIs; i++ {
		intid := vgic.NumPrivateIRQs + uint32(i)
		if setup.Float64() < cfg.EdgeShare {
			if err := dist.SetTriggerMode(intid, vgic.TriggerEdge); err != nil {
				return err
			}
		}
		if err := dist.SetTargetVCPU(intid, setup.Intn(cfg.CPUs)); err != nil {
			return err
		}
		if err := dist.SetEnabled(-1, intid, true); err != nil {
			return err
		}
	}
	dist.SetDistributorEnabled(true)

	bar := progressbar.Default(int64(cfg.Events))
	var injected, completed atomic.Int64

	g := new(errgroup.Group)
	perWorker := cfg.Events / cfg.Workers
	for i := 0; i < cfg.Workers; i++ {
		w := &worker{
			dist:      dist,
			cfg:       cfg,
			rng:       rand.New(rand.NewSource(cfg.Seed + int64(i) + 1)),
			injected:  &injected,
			completed: &completed,
		}
		g.Go(func() error {
			for n := 0; n < perWorker; n++ {
				if err := w.step(); err != nil {
					return err
				}
				_ = bar.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	_ = bar.Finish()

	if err := dist.CheckInvariants(); err != nil {
		return fmt.Errorf("invariant violated: %w", err)
	}

	fmt.Printf("irqstress: %d injections, %d completions\n", injected.Load(), completed.Load())
	for i := range wakes {
		ready, err := dist.Ready(i)
		if err != nil {
			return err
		}
		fmt.Printf("  vcpu %d: %d wakes, %d still queued\n", i, wakes[i].Load(), len(ready))
	}
	fmt.Println("irqstress: ownership invariant holds")
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "irqstress: %v\n", err)
		os.Exit(1)
	}
}
