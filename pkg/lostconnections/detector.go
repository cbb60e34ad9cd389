package lostconnections

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apcflow/apcflow/pkg/config"
	"github.com/apcflow/apcflow/pkg/dilax"
	"github.com/apcflow/apcflow/pkg/fleet"
	"github.com/apcflow/apcflow/pkg/occupancy"
	"github.com/apcflow/apcflow/pkg/statestore"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// Diesel units carry no tracked counting hardware
const nonTrackedFleetPrefix = "ADL"

const scanPoolSize = 8

const serviceDateFormat = "20060102"

// LostConnectionCandidate is produced per scan for a vehicle judged to have
// stopped reporting. It is only persisted through the dedup detail record.
type LostConnectionCandidate struct {
	DetectionTime time.Time                 `json:"detectionTime"`
	Allocation    fleet.VehicleAllocation   `json:"allocation"`
	TripInfo      *occupancy.VehicleTripInfo `json:"vehicleTripInfo,omitempty"`
}

// Detector periodically scans the scheduled vehicle allocations for vehicles
// whose last report is older than the threshold and raises deduplicated
// alerts. The allocation refresh and the detection scan are independent
// self-rescheduling loops; a new iteration is only scheduled once the
// previous one completed, so a slow scan never overlaps itself.
type Detector struct {
	store       *statestore.Store
	allocations fleet.AllocationSource
	config      config.Config

	cacheMutex      sync.Mutex
	allocationCache []fleet.VehicleAllocation

	controlMutex sync.Mutex
	refreshStop  chan struct{}
	scanStop     chan struct{}
}

func NewDetector(store *statestore.Store, allocations fleet.AllocationSource, cfg config.Config) *Detector {
	return &Detector{
		store:       store,
		allocations: allocations,
		config:      cfg,
	}
}

// Init performs an initial allocation fetch and starts the refresh loop.
// Detection is started separately via StartDetecting.
func (d *Detector) Init() {
	d.controlMutex.Lock()
	defer d.controlMutex.Unlock()

	if d.refreshStop != nil {
		return
	}

	d.refreshStop = make(chan struct{})

	go d.refreshLoop(d.refreshStop)
}

func (d *Detector) StartDetecting() {
	d.controlMutex.Lock()
	defer d.controlMutex.Unlock()

	if d.scanStop != nil {
		return
	}

	log.Info().Dur("threshold", d.config.LostConnectionThreshold).Msg("Starting lost connection detection")

	d.scanStop = make(chan struct{})

	go d.scanLoop(d.scanStop)
}

func (d *Detector) StopDetecting() {
	d.controlMutex.Lock()
	defer d.controlMutex.Unlock()

	if d.scanStop == nil {
		return
	}

	log.Info().Msg("Stopping lost connection detection")

	close(d.scanStop)
	d.scanStop = nil
}

// Stop halts both loops. The allocation cache is retained, so a later Init
// resumes from the last known allocations until the next refresh.
func (d *Detector) Stop() {
	d.StopDetecting()

	d.controlMutex.Lock()
	defer d.controlMutex.Unlock()

	if d.refreshStop != nil {
		close(d.refreshStop)
		d.refreshStop = nil
	}
}

func (d *Detector) refreshLoop(stop chan struct{}) {
	for {
		d.RefreshAllocations()

		select {
		case <-stop:
			return
		case <-time.After(d.config.AllocationRefreshInterval):
		}
	}
}

func (d *Detector) scanLoop(stop chan struct{}) {
	for {
		d.Scan()

		select {
		case <-stop:
			return
		case <-time.After(d.config.DetectionScanInterval):
		}
	}
}

// RefreshAllocations replaces the in-memory allocation cache with the
// current service date's trackable allocations. The previous cache is
// retained when the fetch fails.
func (d *Detector) RefreshAllocations() {
	allocations, err := d.allocations.AllAllocations(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch allocations, keeping previous cache")
		return
	}

	serviceDate := time.Now().Format(serviceDateFormat)

	var filtered []fleet.VehicleAllocation
	for _, allocation := range allocations {
		if allocation.VehicleID == "" {
			continue
		}
		if strings.HasPrefix(allocation.VehicleLabel, nonTrackedFleetPrefix) {
			continue
		}
		if allocation.ServiceDate != serviceDate {
			continue
		}

		filtered = append(filtered, allocation)
	}

	d.cacheMutex.Lock()
	d.allocationCache = filtered
	d.cacheMutex.Unlock()

	log.Info().Int("allocations", len(filtered)).Str("servicedate", serviceDate).Msg("Refreshed allocation cache")
}

// Scan checks every cached allocation currently in service and raises an
// alert for each vehicle that has gone quiet beyond the threshold, at most
// once per vehicle/trip per service day. Failures on one allocation never
// block the rest of the scan.
func (d *Detector) Scan() {
	detectionTime := time.Now()
	detectionDay := detectionTime.Format(serviceDateFormat)

	d.cacheMutex.Lock()
	allocations := make([]fleet.VehicleAllocation, len(d.allocationCache))
	copy(allocations, d.allocationCache)
	d.cacheMutex.Unlock()

	var inService []fleet.VehicleAllocation
	for _, allocation := range allocations {
		if allocation.StartDatetime <= detectionTime.Unix() && detectionTime.Unix() <= allocation.EndDatetime {
			inService = append(inService, allocation)
		}
	}

	if len(inService) == 0 {
		return
	}

	alerted := map[string]bool{}
	members, err := d.store.SetMembers(context.Background(), statestore.LostConnectionsKey(detectionDay))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read lost connection dedup set")
	}
	for _, member := range members {
		alerted[member] = true
	}

	scanPool := pool.New().WithMaxGoroutines(scanPoolSize)
	for _, allocation := range inService {
		allocation := allocation

		scanPool.Go(func() {
			d.checkAllocation(detectionTime, detectionDay, allocation, alerted)
		})
	}
	scanPool.Wait()
}

func (d *Detector) checkAllocation(detectionTime time.Time, detectionDay string, allocation fleet.VehicleAllocation, alerted map[string]bool) {
	ctx := context.Background()

	tripInfo, ok := d.loadTripInfo(ctx, allocation.VehicleID)
	if !ok {
		return
	}

	thresholdSeconds := int64(d.config.LostConnectionThreshold.Seconds())

	candidate := false
	switch {
	case tripInfo == nil:
		// Vehicle never reported since the block started
		candidate = detectionTime.Unix()-allocation.StartDatetime > thresholdSeconds
	case tripInfo.TripID == allocation.TripID:
		candidate = detectionTime.Unix()-tripInfo.LastReceivedTimestamp > thresholdSeconds
	default:
		// Snapshot belongs to a different trip. Judge from the allocation
		// start, but keep the stale snapshot's diagnostic fields on the
		// candidate for operator visibility.
		candidate = detectionTime.Unix()-allocation.StartDatetime > thresholdSeconds
	}

	if !candidate {
		return
	}

	member := fmt.Sprintf("%s|%s", allocation.VehicleID, allocation.TripID)
	if alerted[member] {
		return
	}

	d.raiseAlert(ctx, detectionTime, detectionDay, member, allocation, tripInfo)
}

// loadTripInfo returns (nil, true) when no snapshot exists. ok is false only
// on a store failure, which skips this allocation for the current scan.
func (d *Detector) loadTripInfo(ctx context.Context, vehicleID string) (*occupancy.VehicleTripInfo, bool) {
	tripInfoJSON, err := d.store.Get(ctx, statestore.VehicleTripInfoKey(vehicleID))
	if err == statestore.ErrNotFound {
		return nil, true
	}
	if err != nil {
		log.Error().Err(err).Str("vehicleid", vehicleID).Msg("Failed to read vehicle trip info")
		return nil, false
	}

	var tripInfo *occupancy.VehicleTripInfo
	if err := json.Unmarshal([]byte(tripInfoJSON), &tripInfo); err != nil {
		log.Error().Err(err).Str("vehicleid", vehicleID).Msg("Failed to decode vehicle trip info")
		return nil, false
	}

	return tripInfo, true
}

func (d *Detector) raiseAlert(ctx context.Context, detectionTime time.Time, detectionDay string, member string, allocation fleet.VehicleAllocation, tripInfo *occupancy.VehicleTripInfo) {
	lastSeen := "never"
	position := "no GPS position available"
	label := allocation.VehicleLabel

	if tripInfo != nil {
		lastSeen = time.Unix(tripInfo.LastReceivedTimestamp, 0).Format(time.RFC3339)

		if tripInfo.Label != "" {
			label = tripInfo.Label
		}

		if event, err := dilax.ParseEvent(tripInfo.RawEvent); err == nil {
			if latitude, longitude, ok := event.Coordinates(); ok {
				position = fmt.Sprintf("%f,%f", latitude, longitude)
			}
		}
	}

	log.Warn().
		Str("vehiclelabel", label).
		Str("tripid", allocation.TripID).
		Str("lastseen", lastSeen).
		Str("position", position).
		Msg("Vehicle lost connection")

	candidate := LostConnectionCandidate{
		DetectionTime: detectionTime,
		Allocation:    allocation,
		TripInfo:      tripInfo,
	}

	if err := d.store.AddToSet(ctx, statestore.LostConnectionsKey(detectionDay), member, d.config.DedupTTL); err != nil {
		log.Error().Err(err).Str("member", member).Msg("Failed to update lost connection dedup set")
	}

	candidateJSON, err := json.Marshal(candidate)
	if err != nil {
		log.Error().Err(err).Str("member", member).Msg("Failed to encode lost connection candidate")
		return
	}

	if err := d.store.SetWithExpiry(ctx, statestore.LostConnectionsDetailKey(detectionDay, member), string(candidateJSON), d.config.DedupTTL); err != nil {
		log.Error().Err(err).Str("member", member).Msg("Failed to write lost connection detail record")
	}

	indexLostConnectionEvent(candidate, label)
}
