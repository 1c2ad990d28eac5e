package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

var _ = Describe("Store", func() {
	var (
		ctx     context.Context
		backend *mockBackend
		store   *Store
		opts    []Option
	)

	BeforeEach(func() {
		ctx = context.Background()
		backend = newMockBackend()
		opts = []Option{WithLocation(time.UTC)}
	})

	JustBeforeEach(func() {
		var err error
		store, err = Open(ctx, backend, opts...)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Open", func() {
		When("the backend already holds entries", func() {
			BeforeEach(func() {
				backend = newMockBackend(
					Record{ID: 1, Miles: 1500, Date: day(2024, 2, 1)},
					Record{ID: 2, Miles: 1000, Date: day(2024, 1, 1)},
				)
			})

			It("loads them in date order", func() {
				Expect(store.Query(DateAsc)).To(Equal([]Record{
					{ID: 2, Miles: 1000, Date: day(2024, 1, 1)},
					{ID: 1, Miles: 1500, Date: day(2024, 2, 1)},
				}))
			})

			It("enforces uniqueness against loaded days", func() {
				_, err := store.Insert(ctx, Record{Miles: 1100, Date: day(2024, 1, 1)})
				Expect(err).To(MatchError(ErrDuplicateDate))
			})
		})

		It("returns the error when loading fails", func() {
			setupErr := errors.New("load error")
			backend.loadErr = setupErr
			_, err := Open(ctx, backend)
			Expect(err).To(MatchError(setupErr))
		})

		It("rejects a non-positive maximum", func() {
			_, err := Open(ctx, newMockBackend(), WithMaxEntries(0))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Insert", func() {
		var (
			record Record
			stored Record
			err    error
		)

		BeforeEach(func() {
			record = Record{Miles: 1000, Date: day(2024, 1, 1)}
		})

		JustBeforeEach(func() {
			stored, err = store.Insert(ctx, record)
		})

		When("the day is free", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("assigns an id", func() {
				Expect(stored.ID).To(BeNumerically(">", 0))
			})

			It("persists the entry", func() {
				Expect(backend.records).To(HaveKey(stored.ID))
			})

			It("adds the entry to the collection", func() {
				Expect(store.Query(DateDesc)).To(ConsistOf(stored))
			})
		})

		When("another entry exists for the same calendar day", func() {
			BeforeEach(func() {
				backend = newMockBackend(Record{ID: 7, Miles: 900, Date: time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC)})
			})

			It("returns ErrDuplicateDate", func() {
				Expect(err).To(MatchError(ErrDuplicateDate))
			})

			It("leaves the store unchanged", func() {
				Expect(store.Count()).To(Equal(1))
				Expect(backend.len()).To(Equal(1))
			})
		})

		When("days are computed in a non-UTC location", func() {
			BeforeEach(func() {
				loc := time.FixedZone("UTC-5", -5*60*60)
				opts = []Option{WithLocation(loc)}
				// 2024-01-02 03:00 UTC is still 2024-01-01 in UTC-5
				backend = newMockBackend(Record{ID: 1, Miles: 900, Date: time.Date(2024, 1, 1, 12, 0, 0, 0, loc)})
				record = Record{Miles: 950, Date: time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)}
			})

			It("uses the local calendar day", func() {
				Expect(err).To(MatchError(ErrDuplicateDate))
			})
		})

		When("the store is full", func() {
			BeforeEach(func() {
				opts = append(opts, WithMaxEntries(2))
				backend = newMockBackend(
					Record{ID: 1, Miles: 100, Date: day(2023, 1, 1)},
					Record{ID: 2, Miles: 200, Date: day(2023, 1, 2)},
				)
			})

			It("returns ErrCapacityExceeded", func() {
				Expect(err).To(MatchError(ErrCapacityExceeded))
			})

			It("reports the ceiling", func() {
				Expect(err.Error()).To(ContainSubstring("maximum 2 entries"))
			})

			It("leaves the count unchanged", func() {
				Expect(store.Count()).To(Equal(2))
			})
		})

		When("miles are negative", func() {
			BeforeEach(func() {
				record.Miles = -1
			})

			It("returns ErrInvalidRecord", func() {
				Expect(err).To(MatchError(ErrInvalidRecord))
			})
		})

		When("the record already has an id", func() {
			BeforeEach(func() {
				record.ID = 42
			})

			It("returns ErrInvalidRecord", func() {
				Expect(err).To(MatchError(ErrInvalidRecord))
			})
		})

		When("the date is missing", func() {
			BeforeEach(func() {
				record.Date = time.Time{}
			})

			It("returns ErrInvalidRecord", func() {
				Expect(err).To(MatchError(ErrInvalidRecord))
			})
		})

		When("the backend fails", func() {
			var setupErr error

			BeforeEach(func() {
				setupErr = errors.New("disk full")
				backend.insertErr = setupErr
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(setupErr))
			})

			It("leaves the collection unchanged", func() {
				Expect(store.Count()).To(BeZero())
			})

			It("keeps the day free", func() {
				backend.insertErr = nil
				_, retryErr := store.Insert(ctx, record)
				Expect(retryErr).NotTo(HaveOccurred())
			})
		})
	})

	Describe("concurrent inserts", func() {
		It("lets exactly one insert per day succeed", func() {
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
			)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(miles int) {
					defer wg.Done()
					if _, err := store.Insert(ctx, Record{Miles: miles, Date: day(2024, 3, 3)}); err == nil {
						mu.Lock()
						succeeded++
						mu.Unlock()
					}
				}(1000 + i)
			}
			wg.Wait()
			Expect(succeeded).To(Equal(1))
			Expect(store.Count()).To(Equal(1))
		})

		When("the store is nearly full", func() {
			BeforeEach(func() {
				opts = append(opts, WithMaxEntries(5))
			})

			It("never exceeds the ceiling", func() {
				var wg sync.WaitGroup
				for i := 0; i < 20; i++ {
					wg.Add(1)
					go func(d int) {
						defer wg.Done()
						store.Insert(ctx, Record{Miles: 100 * d, Date: day(2024, 4, d+1)})
					}(i)
				}
				wg.Wait()
				Expect(store.Count()).To(Equal(5))
				Expect(backend.len()).To(Equal(5))
			})
		})
	})

	Describe("Delete", func() {
		var (
			id  int64
			err error
		)

		BeforeEach(func() {
			backend = newMockBackend(
				Record{ID: 1, Miles: 1000, Date: day(2024, 1, 1)},
				Record{ID: 2, Miles: 1500, Date: day(2024, 2, 1)},
			)
		})

		JustBeforeEach(func() {
			err = store.Delete(ctx, id)
		})

		When("the entry exists", func() {
			BeforeEach(func() {
				id = 2
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("removes the entry", func() {
				Expect(store.Query(DateAsc)).To(Equal([]Record{{ID: 1, Miles: 1000, Date: day(2024, 1, 1)}}))
				Expect(backend.records).NotTo(HaveKey(int64(2)))
			})

			It("frees the day for a new entry", func() {
				_, insertErr := store.Insert(ctx, Record{Miles: 1600, Date: day(2024, 2, 1)})
				Expect(insertErr).NotTo(HaveOccurred())
			})
		})

		When("two stored entries share the day", func() {
			BeforeEach(func() {
				backend = newMockBackend(
					Record{ID: 1, Miles: 1000, Date: day(2024, 1, 1)},
					Record{ID: 3, Miles: 1010, Date: time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC)},
				)
				id = 1
			})

			It("keeps the day taken by the remaining entry", func() {
				Expect(err).NotTo(HaveOccurred())
				_, insertErr := store.Insert(ctx, Record{Miles: 1020, Date: day(2024, 1, 1)})
				Expect(insertErr).To(MatchError(ErrDuplicateDate))
			})

			It("frees the day once the last one is deleted", func() {
				Expect(store.Delete(ctx, 3)).To(Succeed())
				_, insertErr := store.Insert(ctx, Record{Miles: 1020, Date: day(2024, 1, 1)})
				Expect(insertErr).NotTo(HaveOccurred())
			})
		})

		When("the entry does not exist", func() {
			BeforeEach(func() {
				id = 99
			})

			It("returns ErrNotFound", func() {
				Expect(err).To(MatchError(ErrNotFound))
			})

			It("does not mutate the collection", func() {
				Expect(store.Count()).To(Equal(2))
			})

			It("returns ErrNotFound again when repeated", func() {
				Expect(store.Delete(ctx, id)).To(MatchError(ErrNotFound))
			})
		})

		When("the backend fails", func() {
			var setupErr error

			BeforeEach(func() {
				id = 1
				setupErr = errors.New("io error")
				backend.deleteErr = setupErr
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(setupErr))
			})

			It("keeps the entry", func() {
				Expect(store.Count()).To(Equal(2))
			})
		})
	})

	Describe("Query", func() {
		BeforeEach(func() {
			backend = newMockBackend(
				Record{ID: 3, Miles: 1200, Date: day(2024, 1, 15)},
				Record{ID: 1, Miles: 1000, Date: day(2024, 1, 1)},
				Record{ID: 2, Miles: 1500, Date: day(2024, 2, 1)},
			)
		})

		It("returns ascending and descending views that are exact reverses", func() {
			asc := store.Query(DateAsc)
			desc := store.Query(DateDesc)
			Expect(asc).To(HaveLen(3))
			for i := range asc {
				Expect(desc[len(desc)-1-i]).To(Equal(asc[i]))
			}
		})

		It("returns the newest entry first for DateDesc", func() {
			Expect(store.Query(DateDesc)[0].ID).To(Equal(int64(2)))
		})

		It("returns a copy", func() {
			records := store.Query(DateAsc)
			records[0].Miles = 0
			Expect(store.Query(DateAsc)[0].Miles).To(Equal(1000))
		})
	})

	Describe("Subscribe", func() {
		var (
			sub    *Subscription
			cancel context.CancelFunc
		)

		BeforeEach(func() {
			backend = newMockBackend(Record{ID: 1, Miles: 1000, Date: day(2024, 1, 1)})
		})

		JustBeforeEach(func() {
			var subCtx context.Context
			subCtx, cancel = context.WithCancel(ctx)
			sub = store.Subscribe(subCtx)
		})

		AfterEach(func() {
			cancel()
		})

		It("delivers the current collection immediately", func() {
			var snap Snapshot
			Eventually(sub.C).Should(Receive(&snap))
			Expect(snap).To(Equal(Snapshot{{ID: 1, Miles: 1000, Date: day(2024, 1, 1)}}))
		})

		It("delivers a snapshot after every mutation in order", func() {
			stored, err := store.Insert(ctx, Record{Miles: 1500, Date: day(2024, 2, 1)})
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Delete(ctx, 1)).To(Succeed())

			var snap Snapshot
			Eventually(sub.C).Should(Receive(&snap))
			Expect(snap).To(HaveLen(1))
			Eventually(sub.C).Should(Receive(&snap))
			Expect(snap).To(Equal(Snapshot{stored, {ID: 1, Miles: 1000, Date: day(2024, 1, 1)}}))
			Eventually(sub.C).Should(Receive(&snap))
			Expect(snap).To(Equal(Snapshot{stored}))
		})

		It("does not deliver anything for failed mutations", func() {
			Eventually(sub.C).Should(Receive())
			Expect(store.Delete(ctx, 99)).To(MatchError(ErrNotFound))
			Consistently(sub.C, 50*time.Millisecond).ShouldNot(Receive())
		})

		It("does not block mutations when nobody reads", func() {
			for i := 0; i < 50; i++ {
				_, err := store.Insert(ctx, Record{Miles: 2000 + i, Date: day(2025, 1, 1).AddDate(0, 0, i)})
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(store.Count()).To(Equal(51))
		})

		It("gives independent subscribers the same sequence", func() {
			other := store.Subscribe(ctx)
			defer other.Close()

			_, err := store.Insert(ctx, Record{Miles: 1500, Date: day(2024, 2, 1)})
			Expect(err).NotTo(HaveOccurred())

			for _, s := range []*Subscription{sub, other} {
				var first, second Snapshot
				Eventually(s.C).Should(Receive(&first))
				Eventually(s.C).Should(Receive(&second))
				Expect(first).To(HaveLen(1))
				Expect(second).To(HaveLen(2))
			}
		})

		When("the subscription is closed", func() {
			It("closes the channel and stops delivery", func() {
				sub.Close()
				_, err := store.Insert(ctx, Record{Miles: 1500, Date: day(2024, 2, 1)})
				Expect(err).NotTo(HaveOccurred())
				Eventually(sub.C).Should(BeClosed())
			})

			It("releases the subscriber", func() {
				sub.Close()
				Eventually(func() int {
					store.mu.Lock()
					defer store.mu.Unlock()
					return len(store.subs)
				}).Should(BeZero())
			})

			It("can be closed twice", func() {
				sub.Close()
				sub.Close()
			})
		})

		When("the context is cancelled", func() {
			It("closes the channel", func() {
				cancel()
				Eventually(sub.C).Should(BeClosed())
			})
		})
	})

	Describe("end to end", func() {
		It("keeps one entry per day and notifies subscribers", func() {
			jan, err := store.Insert(ctx, Record{Miles: 1000, Date: day(2024, 1, 1)})
			Expect(err).NotTo(HaveOccurred())
			feb, err := store.Insert(ctx, Record{Miles: 1500, Date: day(2024, 2, 1)})
			Expect(err).NotTo(HaveOccurred())

			Expect(store.Query(DateDesc)).To(Equal([]Record{feb, jan}))

			_, err = store.Insert(ctx, Record{Miles: 1100, Date: day(2024, 1, 1)})
			Expect(err).To(MatchError(ErrDuplicateDate))

			sub := store.Subscribe(ctx)
			defer sub.Close()
			var snap Snapshot
			Eventually(sub.C).Should(Receive(&snap))
			Expect(snap).To(Equal(Snapshot{feb, jan}))

			Expect(store.Delete(ctx, feb.ID)).To(Succeed())
			Eventually(sub.C).Should(Receive(&snap))
			Expect(snap).To(Equal(Snapshot{jan}))
		})
	})
})
