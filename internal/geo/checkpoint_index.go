package geo

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"fleet-route-service/internal/domain"

	"github.com/dhconnelly/rtreego"
)

const (
	dimensions  = 2
	minChildren = 4
	maxChildren = 16
	tolerance   = 1e-9
)

// indexedCheckpoint wraps a checkpoint for R-tree storage.
type indexedCheckpoint struct {
	cp   domain.Checkpoint
	rect *rtreego.Rect
}

func (ic *indexedCheckpoint) Bounds() *rtreego.Rect {
	return ic.rect
}

// CheckpointIndex is a thread-safe R-tree of checkpoints keyed by id.
type CheckpointIndex struct {
	mu    sync.RWMutex
	tree  *rtreego.Rtree
	items map[string]*indexedCheckpoint
}

func NewCheckpointIndex() *CheckpointIndex {
	return &CheckpointIndex{
		tree:  rtreego.NewTree(dimensions, minChildren, maxChildren),
		items: make(map[string]*indexedCheckpoint),
	}
}

// Insert adds or replaces a checkpoint.
func (x *CheckpointIndex) Insert(cp domain.Checkpoint) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if old, ok := x.items[cp.ID]; ok {
		x.tree.Delete(old)
	}

	item := &indexedCheckpoint{
		cp:   cp,
		rect: rtreego.Point{cp.Coordinate.Lat, cp.Coordinate.Lon}.ToRect(tolerance),
	}
	x.tree.Insert(item)
	x.items[cp.ID] = item
}

func (x *CheckpointIndex) Remove(checkpointID string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if item, ok := x.items[checkpointID]; ok {
		x.tree.Delete(item)
		delete(x.items, checkpointID)
	}
}

func (x *CheckpointIndex) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.items)
}

// Within returns checkpoints no farther than radiusKm from center, nearest first.
func (x *CheckpointIndex) Within(center domain.Coordinate, radiusKm float64) ([]domain.Checkpoint, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	// Degree box around the center; longitude widens with latitude.
	dLat := (radiusKm / EarthRadiusKm) * (180 / math.Pi)
	cosLat := math.Cos(center.Lat * math.Pi / 180)
	dLon := 180.0
	if cosLat > 1e-6 {
		dLon = math.Min(dLat/cosLat, 180)
	}

	type hit struct {
		cp   domain.Checkpoint
		dist float64
	}
	hits := []hit{}
	seen := make(map[string]bool)
	for _, span := range lonSpans(center.Lon, dLon) {
		bounds, err := rtreego.NewRect(
			rtreego.Point{center.Lat - dLat, span[0]},
			[]float64{2 * dLat, span[1] - span[0]},
		)
		if err != nil {
			return nil, fmt.Errorf("checkpoint index: invalid search box: %w", err)
		}

		for _, s := range x.tree.SearchIntersect(bounds) {
			item, ok := s.(*indexedCheckpoint)
			if !ok || seen[item.cp.ID] {
				continue
			}
			seen[item.cp.ID] = true
			d := DistanceKm(center, item.cp.Coordinate)
			if d <= radiusKm {
				hits = append(hits, hit{cp: item.cp, dist: d})
			}
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].cp.Sequence < hits[j].cp.Sequence
	})

	out := make([]domain.Checkpoint, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.cp)
	}
	return out, nil
}

// lonSpans splits [lon-dLon, lon+dLon] into boxes inside [-180, 180],
// wrapping across the antimeridian.
func lonSpans(lon, dLon float64) [][2]float64 {
	lo, hi := lon-dLon, lon+dLon
	switch {
	case dLon >= 180:
		return [][2]float64{{-180, 180}}
	case lo < -180:
		return [][2]float64{{lo + 360, 180}, {-180, hi}}
	case hi > 180:
		return [][2]float64{{lo, 180}, {-180, hi - 360}}
	}
	return [][2]float64{{lo, hi}}
}
