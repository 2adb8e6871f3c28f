package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openshelf/library_backend/config"
	"github.com/openshelf/library_backend/models"
	"github.com/openshelf/library_backend/utils"
	"github.com/openshelf/library_backend/workflow"
	"github.com/shopspring/decimal"
)

func TestCirculationRegression(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "openshelf_test")
	t.Setenv("FINE_RATE_PER_DAY", "5")
	t.Setenv("LOAN_PERIOD_DAYS", "14")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	ctx := context.Background()
	staff, err := models.CreateUser(ctx, &models.NewUser{Name: "Librarian", Email: "staff@test.local", IsStaff: true})
	if err != nil {
		t.Fatalf("CreateUser(staff): %v", err)
	}
	staffCtx := ctxForUser(staff)

	newMember := func(name string) *models.User {
		t.Helper()
		u, err := models.CreateUser(ctx, &models.NewUser{Name: name, Email: name + "@test.local"})
		if err != nil {
			t.Fatalf("CreateUser(%s): %v", name, err)
		}
		return u
	}
	newTitle := func(title string) *models.Book {
		t.Helper()
		b, err := models.CreateBook(ctx, &models.NewBook{Title: title, Author: "Test"})
		if err != nil {
			t.Fatalf("CreateBook(%s): %v", title, err)
		}
		return b
	}

	t.Run("checkout race has exactly one winner", func(t *testing.T) {
		book := newTitle("Contested Title")
		members := make([]*models.User, 8)
		for i := range members {
			members[i] = newMember(fmt.Sprintf("racer%d", i))
		}

		var wg sync.WaitGroup
		results := make(chan error, len(members))
		for _, member := range members {
			member := member
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := models.Checkout(ctx, book.ID, member.ID)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		winners, conflicts := 0, 0
		for err := range results {
			switch {
			case err == nil:
				winners++
			case err == models.ErrAlreadyBorrowed:
				conflicts++
			default:
				t.Fatalf("unexpected checkout error: %v", err)
			}
		}
		if winners != 1 || conflicts != len(members)-1 {
			t.Fatalf("expected 1 winner and %d conflicts, got %d/%d", len(members)-1, winners, conflicts)
		}

		refreshed, err := models.GetBook(ctx, book.ID)
		if err != nil {
			t.Fatalf("GetBook: %v", err)
		}
		if refreshed.Available {
			t.Fatal("book still marked available after a successful checkout")
		}
	})

	t.Run("round trip restores availability and archives once", func(t *testing.T) {
		book := newTitle("Round Trip")
		member := newMember("roundtrip")

		loan, err := models.Checkout(ctx, book.ID, member.ID)
		if err != nil {
			t.Fatalf("Checkout: %v", err)
		}
		returned, err := models.Checkin(ctx, loan.ID)
		if err != nil {
			t.Fatalf("Checkin: %v", err)
		}
		if returned.ReturnedAt == nil {
			t.Fatal("checkin did not stamp returned_at")
		}

		refreshed, err := models.GetBook(ctx, book.ID)
		if err != nil {
			t.Fatalf("GetBook: %v", err)
		}
		if !refreshed.Available {
			t.Fatal("book not available again after checkin")
		}

		var entries []models.HistoryEntry
		if err := db.WithContext(ctx).
			Where("book_id = ? AND user_id = ? AND status = ?", book.ID, member.ID, models.HistoryStatusReturned).
			Find(&entries).Error; err != nil {
			t.Fatalf("list history: %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("expected exactly 1 returned history entry, got %d", len(entries))
		}
		if !entries[0].Fine.Equal(decimal.Zero) {
			t.Fatalf("on-time return recorded fine %s, want 0", entries[0].Fine)
		}
	})

	t.Run("mailbox approval applies the loan and is single shot", func(t *testing.T) {
		book := newTitle("Mailbox Title")
		member := newMember("requester")

		entry, err := models.SubmitBorrowRequest(ctxForUser(member), book.ID)
		if err != nil {
			t.Fatalf("SubmitBorrowRequest: %v", err)
		}
		resolved, err := workflow.Approve(staffCtx, entry.ID, staff.ID)
		if err != nil {
			t.Fatalf("Approve: %v", err)
		}
		if resolved.Status != models.RequestStatusApproved {
			t.Fatalf("entry status %s, want approved", resolved.Status)
		}

		loans, err := models.ListActiveLoansForUser(ctx, member.ID)
		if err != nil || len(loans) != 1 {
			t.Fatalf("expected 1 active loan after approval, got %d (err=%v)", len(loans), err)
		}

		if _, err := workflow.Approve(staffCtx, entry.ID, staff.ID); err != models.ErrAlreadyResolved {
			t.Fatalf("second approve: got %v, want ErrAlreadyResolved", err)
		}
	})

	t.Run("approving a request for a borrowed title rejects it", func(t *testing.T) {
		book := newTitle("Taken Title")
		holder := newMember("holder")
		hopeful := newMember("hopeful")

		if _, err := models.Checkout(ctx, book.ID, holder.ID); err != nil {
			t.Fatalf("Checkout: %v", err)
		}
		entry, err := models.SubmitBorrowRequest(ctxForUser(hopeful), book.ID)
		if err != nil {
			t.Fatalf("SubmitBorrowRequest: %v", err)
		}
		resolved, err := workflow.Approve(staffCtx, entry.ID, staff.ID)
		if err != nil {
			t.Fatalf("Approve must not fail on a circulation conflict: %v", err)
		}
		if resolved.Status != models.RequestStatusRejected {
			t.Fatalf("entry status %s, want rejected", resolved.Status)
		}
		if !strings.Contains(resolved.Reason, "rejected by system") {
			t.Fatalf("rejection reason %q does not mark a system rejection", resolved.Reason)
		}
	})

	t.Run("cancelling a reservation renumbers the queue", func(t *testing.T) {
		book := newTitle("Queued Title")
		holder := newMember("qholder")
		a, b, c := newMember("queueA"), newMember("queueB"), newMember("queueC")

		if _, err := models.Checkout(ctx, book.ID, holder.ID); err != nil {
			t.Fatalf("Checkout: %v", err)
		}

		resA, err := models.Reserve(ctx, book.ID, a.ID)
		if err != nil {
			t.Fatalf("Reserve(A): %v", err)
		}
		resB, err := models.Reserve(ctx, book.ID, b.ID)
		if err != nil {
			t.Fatalf("Reserve(B): %v", err)
		}
		resC, err := models.Reserve(ctx, book.ID, c.ID)
		if err != nil {
			t.Fatalf("Reserve(C): %v", err)
		}
		if resA.Position != 1 || resB.Position != 2 || resC.Position != 3 {
			t.Fatalf("positions %d/%d/%d, want 1/2/3", resA.Position, resB.Position, resC.Position)
		}

		if _, err := models.Reserve(ctx, book.ID, b.ID); err != models.ErrDuplicateReservation {
			t.Fatalf("duplicate reserve: got %v, want ErrDuplicateReservation", err)
		}

		if _, err := models.CancelReservation(ctxForUser(a), resA.ID, a.ID); err != nil {
			t.Fatalf("CancelReservation(A): %v", err)
		}

		queue, err := models.ListQueueForBook(ctx, book.ID)
		if err != nil {
			t.Fatalf("ListQueueForBook: %v", err)
		}
		if len(queue) != 2 || queue[0].UserId != b.ID || queue[0].Position != 1 ||
			queue[1].UserId != c.ID || queue[1].Position != 2 {
			t.Fatalf("queue after cancel not dense B=1,C=2: %+v", queue)
		}
	})

	t.Run("concurrent cancel and reserve keep positions dense", func(t *testing.T) {
		book := newTitle("Churned Title")
		holder := newMember("churnHolder")

		if _, err := models.Checkout(ctx, book.ID, holder.ID); err != nil {
			t.Fatalf("Checkout: %v", err)
		}

		live := make([]*models.Reservation, 0, 3)
		for i := 0; i < 3; i++ {
			member := newMember(fmt.Sprintf("churnSeed%d", i))
			res, err := models.Reserve(ctx, book.ID, member.ID)
			if err != nil {
				t.Fatalf("Reserve(seed %d): %v", i, err)
			}
			live = append(live, res)
		}

		// Each round removes the head while a new waiter joins. A join that
		// counts the queue mid-renumber hands out a position like 1,2,4; the
		// book row lock forces the two writes to run one after the other.
		for round := 0; round < 10; round++ {
			head := live[0]
			joiner := newMember(fmt.Sprintf("churnJoin%d", round))

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				if _, err := models.CancelReservation(ctx, head.ID, head.UserId); err != nil {
					t.Errorf("round %d: CancelReservation: %v", round, err)
				}
			}()
			go func() {
				defer wg.Done()
				if _, err := models.Reserve(ctx, book.ID, joiner.ID); err != nil {
					t.Errorf("round %d: Reserve: %v", round, err)
				}
			}()
			wg.Wait()
			if t.Failed() {
				t.FailNow()
			}

			queue, err := models.ListQueueForBook(ctx, book.ID)
			if err != nil {
				t.Fatalf("round %d: ListQueueForBook: %v", round, err)
			}
			if len(queue) != 3 {
				t.Fatalf("round %d: queue length %d, want 3", round, len(queue))
			}
			for i, entry := range queue {
				if entry.Position != i+1 {
					t.Fatalf("round %d: position %d at index %d, queue has a gap: %+v",
						round, entry.Position, i, queue)
				}
			}
			live = queue
		}
	})

	t.Run("paying a fine settles the flag without changing the amount", func(t *testing.T) {
		book := newTitle("Late Title")
		member := newMember("latecomer")

		loan, err := models.Checkout(ctx, book.ID, member.ID)
		if err != nil {
			t.Fatalf("Checkout: %v", err)
		}
		// Five and a half days past due rounds up to six chargeable days:
		// 30 at the 5/day test rate.
		due := time.Now().UTC().Add(-(5*24*time.Hour + 12*time.Hour))
		if err := db.Model(&models.LoanRecord{}).Where("id = ?", loan.ID).Update("due_at", due).Error; err != nil {
			t.Fatalf("backdate due_at: %v", err)
		}
		if _, err := models.Checkin(ctx, loan.ID); err != nil {
			t.Fatalf("Checkin: %v", err)
		}

		want := decimal.NewFromInt(30)
		fine, err := models.ComputeFineForLoan(ctx, loan.ID)
		if err != nil {
			t.Fatalf("ComputeFineForLoan: %v", err)
		}
		if !fine.Equal(want) {
			t.Fatalf("fine after checkin %s, want %s", fine, want)
		}

		var entry models.HistoryEntry
		if err := db.Where("book_id = ? AND user_id = ?", book.ID, member.ID).First(&entry).Error; err != nil {
			t.Fatalf("fetch history entry: %v", err)
		}
		if !entry.Fine.Equal(want) {
			t.Fatalf("archived fine %s, want %s", entry.Fine, want)
		}

		if err := models.MarkLoanFinePaid(ctx, loan.ID); err != nil {
			t.Fatalf("MarkLoanFinePaid: %v", err)
		}
		if err := models.MarkHistoryFinePaid(ctx, entry.ID); err != nil {
			t.Fatalf("MarkHistoryFinePaid: %v", err)
		}

		paidLoan, err := models.GetLoan(ctx, loan.ID)
		if err != nil {
			t.Fatalf("GetLoan: %v", err)
		}
		if !paidLoan.FinePaid {
			t.Fatal("loan fine_paid not set after payment")
		}
		paidEntry, err := utils.FetchSingleModel[models.HistoryEntry](ctx, entry.ID)
		if err != nil {
			t.Fatalf("fetch paid history entry: %v", err)
		}
		if !paidEntry.FinePaid {
			t.Fatal("history fine_paid not set after payment")
		}
		if !paidEntry.Fine.Equal(want) {
			t.Fatalf("payment changed the archived fine to %s, want %s", paidEntry.Fine, want)
		}

		fineAfter, err := models.ComputeFineForLoan(ctx, loan.ID)
		if err != nil {
			t.Fatalf("ComputeFineForLoan after payment: %v", err)
		}
		if !fineAfter.Equal(want) {
			t.Fatalf("payment changed the computed fine to %s, want %s", fineAfter, want)
		}
	})

	t.Run("checkin promotes the head and expiry passes the hold on", func(t *testing.T) {
		book := newTitle("Held Title")
		holder := newMember("hholder")
		first, second := newMember("holdFirst"), newMember("holdSecond")

		loan, err := models.Checkout(ctx, book.ID, holder.ID)
		if err != nil {
			t.Fatalf("Checkout: %v", err)
		}
		resFirst, err := models.Reserve(ctx, book.ID, first.ID)
		if err != nil {
			t.Fatalf("Reserve(first): %v", err)
		}
		if _, err := models.Reserve(ctx, book.ID, second.ID); err != nil {
			t.Fatalf("Reserve(second): %v", err)
		}

		if _, err := models.Checkin(ctx, loan.ID); err != nil {
			t.Fatalf("Checkin: %v", err)
		}

		promoted, err := utils.FetchSingleModel[models.Reservation](ctx, resFirst.ID)
		if err != nil {
			t.Fatalf("fetch promoted reservation: %v", err)
		}
		if promoted.Status != models.ReservationStatusAvailable || promoted.ExpiresAt == nil {
			t.Fatalf("head not promoted to a timed hold: %+v", promoted)
		}

		// The held copy stays off the shelf for everyone but the holder.
		refreshed, err := models.GetBook(ctx, book.ID)
		if err != nil {
			t.Fatalf("GetBook: %v", err)
		}
		if refreshed.Available {
			t.Fatal("held copy must not show as available")
		}
		intruder := newMember("intruder")
		if _, err := models.Checkout(ctx, book.ID, intruder.ID); err != models.ErrAlreadyBorrowed {
			t.Fatalf("intruder checkout during hold: got %v, want ErrAlreadyBorrowed", err)
		}

		// Force the pickup window into the past; the reconciler expires the
		// hold and promotes the next waiter.
		past := time.Now().UTC().Add(-time.Hour)
		if err := db.Model(&models.Reservation{}).Where("id = ?", promoted.ID).Update("expires_at", past).Error; err != nil {
			t.Fatalf("backdate hold: %v", err)
		}
		if _, err := workflow.RunReconciliation(ctx); err != nil {
			t.Fatalf("RunReconciliation: %v", err)
		}

		expired, err := utils.FetchSingleModel[models.Reservation](ctx, promoted.ID)
		if err != nil {
			t.Fatalf("fetch expired reservation: %v", err)
		}
		if expired.Status != models.ReservationStatusExpired {
			t.Fatalf("lapsed hold status %s, want expired", expired.Status)
		}

		queue, err := models.ListQueueForBook(ctx, book.ID)
		if err != nil {
			t.Fatalf("ListQueueForBook: %v", err)
		}
		if len(queue) != 1 || queue[0].UserId != second.ID || queue[0].Status != models.ReservationStatusAvailable {
			t.Fatalf("second waiter not promoted after expiry: %+v", queue)
		}

		// The new holder's own checkout fulfills the hold.
		if _, err := models.Checkout(ctx, book.ID, second.ID); err != nil {
			t.Fatalf("holder checkout during own hold: %v", err)
		}
	})

	t.Run("reconciliation is idempotent", func(t *testing.T) {
		book := newTitle("Drifted Title")
		member := newMember("drifted")

		if _, err := models.Checkout(ctx, book.ID, member.ID); err != nil {
			t.Fatalf("Checkout: %v", err)
		}
		// Simulate a crash between the ledger write and the archive write.
		if err := db.Where("book_id = ? AND user_id = ?", book.ID, member.ID).
			Delete(&models.HistoryEntry{}).Error; err != nil {
			t.Fatalf("drop history: %v", err)
		}

		cid1, err := workflow.RunReconciliation(ctx)
		if err != nil {
			t.Fatalf("RunReconciliation(1): %v", err)
		}
		reports1, err := models.ListReconciliationReports(ctx, cid1)
		if err != nil {
			t.Fatalf("ListReconciliationReports(1): %v", err)
		}
		if len(reports1) == 0 {
			t.Fatal("first sweep recorded no repairs for the dropped archive entry")
		}

		cid2, err := workflow.RunReconciliation(ctx)
		if err != nil {
			t.Fatalf("RunReconciliation(2): %v", err)
		}
		reports2, err := models.ListReconciliationReports(ctx, cid2)
		if err != nil {
			t.Fatalf("ListReconciliationReports(2): %v", err)
		}
		if len(reports2) != 0 {
			t.Fatalf("second sweep repaired again (%d reports); repairs must be idempotent", len(reports2))
		}

		var open int64
		if err := db.Model(&models.HistoryEntry{}).
			Where("book_id = ? AND user_id = ? AND status = ?", book.ID, member.ID, models.HistoryStatusBorrowed).
			Count(&open).Error; err != nil {
			t.Fatalf("count history: %v", err)
		}
		if open != 1 {
			t.Fatalf("expected exactly 1 open history entry after two sweeps, got %d", open)
		}
	})
}

func ctxForUser(user *models.User) context.Context {
	ctx := utils.SetUserIdInContext(context.Background(), user.ID)
	ctx = utils.SetUserNameInContext(ctx, user.Name)
	ctx = utils.SetIsStaffInContext(ctx, user.IsStaff)
	return ctx
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("openshelf-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("openshelf-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=openshelf_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
