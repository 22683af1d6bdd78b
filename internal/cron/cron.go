package cron

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	cronv3 "github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/invoiceos/docstack/config"
	cron_config "github.com/invoiceos/docstack/internal/cron/config"
	"github.com/invoiceos/docstack/internal/enum"
	"github.com/invoiceos/docstack/internal/logger"
	"github.com/invoiceos/docstack/internal/tracing"
	"github.com/invoiceos/docstack/services/ingestion"
)

const (
	// GroupIngestion is the group for ingestion related jobs
	GroupIngestion = "ingestion"

	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second
)

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupIngestion: new(sync.Mutex),
	},
}

type CronManager struct {
	cfg       *config.Config
	log       logger.Logger
	cron      *cronv3.Cron
	k8s       kubernetes.Interface
	stopCh    chan struct{}
	stopOnce  sync.Once
	jobIDs    map[string]cronv3.EntryID
	scheduler *ingestion.CycleScheduler
}

func NewCronManager(cfg *config.Config, log logger.Logger, k8s kubernetes.Interface, scheduler *ingestion.CycleScheduler) *CronManager {
	return &CronManager{
		cfg:       cfg,
		log:       log,
		k8s:       k8s,
		stopCh:    make(chan struct{}),
		jobIDs:    make(map[string]cronv3.EntryID),
		scheduler: scheduler,
	}
}

// Start initializes and starts the cron manager with leader election.
// If k8s is nil, it will start in local mode without leader election.
func (cm *CronManager) Start(podName, namespace string) error {
	if cm.k8s == nil || os.Getenv("LOCAL_DEV") == "true" {
		cm.log.Info("Starting cron manager in local mode")
		cm.StartCron()
		return nil
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      "docstack-cron-leader",
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	errCh := make(chan error, 1)

	go func() {
		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					cm.StartCron()
				},
				OnStoppedLeading: func() {
					cm.log.Info("Leader lost - stopping crons")
					cm.Stop()
				},
				OnNewLeader: func(identity string) {
					cm.log.Infof("New leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}

		ctx := context.Background()
		le.Run(ctx)
	}()

	// Wait briefly to see if leader election fails immediately
	select {
	case err := <-errCh:
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		cm.StartCron()
	case <-time.After(5 * time.Second):
	}

	return nil
}

// Stop gracefully stops the cron manager. Safe to call more than once:
// losing leadership and shutting down both funnel through here.
func (cm *CronManager) Stop() {
	cm.stopOnce.Do(func() {
		if cm.cron != nil {
			cm.log.Info("Stopping cron manager")
			ctx := cm.cron.Stop()
			// Wait for jobs to finish
			<-ctx.Done()
		}
		close(cm.stopCh)
	})
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	var cronConfig cron_config.Config
	if err := env.Parse(&cronConfig); err != nil {
		cm.log.Fatalf("Failed to parse cron config from environment: %v", err)
	}

	if cronConfig.CronScheduleHeartbeat != "" {
		podName := os.Getenv("POD_NAME")
		if podName == "" {
			podName = "local"
		}
		id, err := c.AddFunc(cronConfig.CronScheduleHeartbeat, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.log.Infof("Cron heartbeat from pod: %s", podName)
		})
		if err != nil {
			cm.log.Fatalf("Could not add heartbeat cron job: %v", err)
		}
		cm.jobIDs["heartbeat"] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", cronConfig.CronScheduleHeartbeat)
	}

	if cronConfig.CronScheduleIngestCycle != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleIngestCycle, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupIngestion].Lock()
			defer jobLocks.locks[GroupIngestion].Unlock()
			cm.runIngestCycle()
		})
		if err != nil {
			cm.log.Fatalf("Could not add ingest cycle cron job: %v", err)
		}
		cm.jobIDs["ingest_cycle"] = id
		cm.log.Infof("Registered ingest cycle job with schedule: %s", cronConfig.CronScheduleIngestCycle)
	}
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

func (cm *CronManager) runIngestCycle() {
	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.runIngestCycle")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	result := cm.scheduler.RunCycle(ctx)
	switch result.Status {
	case enum.CycleStatusLocked:
		cm.log.Infof("Ingest cycle %s skipped, mailbox busy", result.CycleID)
	case enum.CycleStatusBackoff:
		cm.log.Infof("Ingest cycle %s skipped, mailbox in backoff", result.CycleID)
	default:
		if result.Error != "" {
			cm.log.Errorf("Ingest cycle %s finished with error: %s", result.CycleID, result.Error)
		}
	}
}
