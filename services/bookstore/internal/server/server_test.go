package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"booktrak/internal/ratelimit"
	"booktrak/pkg/store"
	"booktrak/services/bookstore/internal/app"
	"booktrak/services/bookstore/internal/security"
)

var fixedNow = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	t       *testing.T
	handler http.Handler
	mem     *store.MemoryStore
}

func newHarness(t *testing.T, configure ...func(*Config)) *harness {
	t.Helper()
	mem := store.NewMemoryStore()
	a, err := app.New(app.Config{
		Store:     mem,
		JWTSecret: "server-test-secret",
		Now:       func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	cfg := Config{App: a}
	for _, fn := range configure {
		fn(&cfg)
	}
	return &harness{t: t, handler: New(cfg).Router(), mem: mem}
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(h.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:4711"
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	dec := json.NewDecoder(rec.Body)
	dec.UseNumber()
	require.NoError(t, dec.Decode(&out), "body: %s", rec.Body.String())
	return out
}

func (h *harness) register(username, userType string) string {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/registration/", "", map[string]string{
		"username":         username,
		"email":            username + "@example.com",
		"password":         "secret-" + username,
		"confirm_password": "secret-" + username,
		"user_type":        userType,
	})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody(h.t, rec)["token"].(string)
}

func (h *harness) createBook(token string, book map[string]any) int64 {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/librarian/add-books/", token, book)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	id, err := decodeBody(h.t, rec)["id"].(json.Number).Int64()
	require.NoError(h.t, err)
	return id
}

func bookFixture(title, author, isbn, price string) map[string]any {
	return map[string]any{"title": title, "author": author, "isbn": isbn, "price": price}
}

func bookPath(id int64) string {
	return "/api/librarian/delete-books/" + strconv.FormatInt(id, 10) + "/"
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRegistrationAndLoginShareToken(t *testing.T) {
	h := newHarness(t)
	token := h.register("alice", "")

	rec := h.do(http.MethodPost, "/api/login/", "", map[string]string{"username": "alice", "password": "secret-alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	require.Equal(t, "Login successful", body["message"])
	require.Equal(t, token, body["token"])
	require.Equal(t, "alice", body["username"])

	rec = h.do(http.MethodGet, "/api/customer/", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "customer", decodeBody(t, rec)["user_type"])
}

func TestRegistrationValidation(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/registration/", "", map[string]string{
		"username": "bad name!",
		"password": "x",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields := decodeBody(t, rec)["fields"].(map[string]any)
	require.Contains(t, fields, "username")
	require.Contains(t, fields, "email")
	require.Contains(t, fields, "confirm_password")

	rec = h.do(http.MethodPost, "/api/registration/", "", map[string]string{
		"username":         "bob",
		"email":            "bob@example.com",
		"password":         "one",
		"confirm_password": "two",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields = decodeBody(t, rec)["fields"].(map[string]any)
	require.Equal(t, []any{"Password do not match"}, fields["password"])

	h.register("carol", "")
	rec = h.do(http.MethodPost, "/api/registration/", "", map[string]string{
		"username":         "carol",
		"email":            "other@example.com",
		"password":         "pw",
		"confirm_password": "pw",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "A user with that username already exists.", decodeBody(t, rec)["error"])
}

func TestLoginErrors(t *testing.T) {
	h := newHarness(t)
	h.register("dave", "")

	rec := h.do(http.MethodPost, "/api/login/", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Please provide both the credentials", decodeBody(t, rec)["error"])

	rec = h.do(http.MethodPost, "/api/login/", "", map[string]string{"username": "dave", "password": "nope"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Unable to login with this credentials", decodeBody(t, rec)["error"])
}

func TestAccessControl(t *testing.T) {
	h := newHarness(t)
	customer := h.register("erin", "customer")
	librarian := h.register("frank", "librarian")

	rec := h.do(http.MethodGet, "/api/librarian/add-books/", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", decodeBody(t, rec)["error"])

	rec = h.do(http.MethodGet, "/api/librarian/add-books/", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodGet, "/api/librarian/report/", customer, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "forbidden", decodeBody(t, rec)["error"])

	rec = h.do(http.MethodGet, "/api/librarian/", librarian, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "For Librarian only", body["message"])
	require.Equal(t, "librarian", body["user_type"])

	// The customer gate only requires authentication.
	rec = h.do(http.MethodGet, "/api/customer/", librarian, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "For Customers", decodeBody(t, rec)["message"])
}

func TestLogoutRevokesToken(t *testing.T) {
	h := newHarness(t)
	token := h.register("gina", "")

	rec := h.do(http.MethodPost, "/api/logout/", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(http.MethodGet, "/api/customer/", token, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/api/login/", "", map[string]string{"username": "gina", "password": "secret-gina"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEqual(t, token, decodeBody(t, rec)["token"])
}

func TestLibrarianBookCRUD(t *testing.T) {
	h := newHarness(t)
	lib := h.register("hank", "librarian")

	book := bookFixture("Dune", "Herbert", "9780441013593", "10")
	book["cover_image_url"] = "https://covers.example.com/dune.jpg"
	id := h.createBook(lib, book)

	rec := h.do(http.MethodGet, "/api/librarian/add-books/", lib, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.Equal(t, "10.00", list[0]["price"])
	require.EqualValues(t, 0, list[0]["times_issued"])

	rec = h.do(http.MethodPut, bookPath(id), lib, bookFixture("Dune Messiah", "Herbert", "9780441013593", "12.5"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	require.Equal(t, "Dune Messiah", body["title"])
	require.Equal(t, "12.50", body["price"])
	require.Nil(t, body["cover_image_url"])

	rec = h.do(http.MethodPatch, bookPath(id), lib, map[string]any{"cover_image_url": "https://covers.example.com/m.jpg"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = h.do(http.MethodPatch, bookPath(id), lib, map[string]any{"author": "Frank Herbert"})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	require.Equal(t, "Frank Herbert", body["author"])
	require.Equal(t, "https://covers.example.com/m.jpg", body["cover_image_url"])

	rec = h.do(http.MethodPatch, bookPath(id), lib, `{"cover_image_url": null}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, decodeBody(t, rec)["cover_image_url"])

	rec = h.do(http.MethodDelete, bookPath(id), lib, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(http.MethodGet, bookPath(id), lib, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/api/librarian/delete-books/abc/", lib, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateBookValidation(t *testing.T) {
	h := newHarness(t)
	lib := h.register("ivy", "librarian")
	h.createBook(lib, bookFixture("A", "B", "111", "1.00"))

	rec := h.do(http.MethodPost, "/api/librarian/add-books/", lib, bookFixture("C", "D", "111", "2.00"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields := decodeBody(t, rec)["fields"].(map[string]any)
	require.Equal(t, []any{"book with this isbn already exists."}, fields["isbn"])

	rec = h.do(http.MethodPost, "/api/librarian/add-books/", lib, map[string]any{
		"title":           "T",
		"author":          "A",
		"isbn":            "12345678901234",
		"cover_image_url": "not a url",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields = decodeBody(t, rec)["fields"].(map[string]any)
	require.Contains(t, fields, "isbn")
	require.Contains(t, fields, "price")
	require.Equal(t, []any{"Enter a valid URL."}, fields["cover_image_url"])

	rec = h.do(http.MethodGet, "/api/librarian/add-books/", lib, nil)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
}

func TestReportAndBrowseOrdering(t *testing.T) {
	h := newHarness(t)
	lib := h.register("jack", "librarian")
	cust := h.register("kate", "")
	first := h.createBook(lib, bookFixture("Zeta", "Banks", "1", "5"))
	second := h.createBook(lib, bookFixture("Alpha", "Banks", "2", "5"))
	h.createBook(lib, bookFixture("Mid", "Adams", "3", "5"))

	for _, id := range []int64{second, second, first} {
		rec := h.do(http.MethodPost, "/api/customer/add-to-cart/", cust, map[string]any{"book_id": id})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := h.do(http.MethodPost, "/api/customer/checkout/", cust, map[string]any{"books_to_issue": []int64{second, second, first}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodGet, "/api/librarian/report/", lib, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "most_issued", body["filter_applied"])
	require.Equal(t, json.Number("3"), body["total_books"])
	report := body["report"].([]any)
	require.Equal(t, "Alpha", report[0].(map[string]any)["title"])
	require.Equal(t, json.Number("2"), report[0].(map[string]any)["total_issues"])

	rec = h.do(http.MethodGet, "/api/librarian/report/?filter=author", lib, nil)
	report = decodeBody(t, rec)["report"].([]any)
	titles := []string{}
	for _, e := range report {
		titles = append(titles, e.(map[string]any)["title"].(string))
	}
	require.Equal(t, []string{"Mid", "Alpha", "Zeta"}, titles)

	rec = h.do(http.MethodGet, "/api/customer/browse-book/?filter=author", cust, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	require.Equal(t, "author", body["filter"])
	require.Equal(t, json.Number("3"), body["books_count"])
	books := body["books"].([]any)
	require.Equal(t, "Mid", books[0].(map[string]any)["title"])
	require.Equal(t, "Alpha", books[1].(map[string]any)["title"])
	require.NotContains(t, books[0].(map[string]any), "isbn")
}

func TestSaveAndCartFlow(t *testing.T) {
	h := newHarness(t)
	lib := h.register("lena", "librarian")
	cust := h.register("mike", "")
	id := h.createBook(lib, bookFixture("Emma", "Austen", "42", "7.25"))

	rec := h.do(http.MethodPost, "/api/customer/save-book/", cust, map[string]any{"book_id": id})
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, json.Number("1"), body["saved_books_count"])
	require.Equal(t, "Emma", body["book_title"])

	rec = h.do(http.MethodPost, "/api/customer/save-book/", cust, map[string]any{"book_id": id})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Book already saved", decodeBody(t, rec)["error"])

	rec = h.do(http.MethodPost, "/api/customer/save-book/", cust, map[string]any{"book_id": 999})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body = decodeBody(t, rec)
	require.Equal(t, "Book does not exist.", body["error"])
	require.Contains(t, body["fields"], "book_id")

	rec = h.do(http.MethodPost, "/api/customer/add-to-cart/", cust, map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "This field is required.", decodeBody(t, rec)["error"])

	for i := 1; i <= 2; i++ {
		rec = h.do(http.MethodPost, "/api/customer/add-to-cart/", cust, map[string]any{"book_id": id})
		require.Equal(t, http.StatusAccepted, rec.Code)
		require.Equal(t, json.Number(strconv.Itoa(i)), decodeBody(t, rec)["cart_items_count"])
	}

	rec = h.do(http.MethodDelete, "/api/customer/remove-from-cart/", cust, map[string]any{"book_id": id})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, json.Number("1"), decodeBody(t, rec)["cart_items_count"])

	rec = h.do(http.MethodDelete, "/api/customer/remove-from-cart/", cust, map[string]any{"book_id": id})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(http.MethodDelete, "/api/customer/remove-from-cart/", cust, map[string]any{"book_id": id})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Book not in cart", decodeBody(t, rec)["error"])
}

func TestCheckoutBill(t *testing.T) {
	h := newHarness(t)
	lib := h.register("nina", "librarian")
	cust := h.register("otto", "")
	id := h.createBook(lib, bookFixture("Ulysses", "Joyce", "5", "10.00"))
	for i := 0; i < 2; i++ {
		h.do(http.MethodPost, "/api/customer/add-to-cart/", cust, map[string]any{"book_id": id})
	}

	rec := h.do(http.MethodPost, "/api/customer/checkout/", cust, map[string]any{"books_to_issue": []int64{id, id}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"total_amount":20.00`)
	body := decodeBody(t, rec)
	require.Equal(t, true, body["success"])
	require.Equal(t, "Books issued successfully", body["message"])
	bill := body["bill_summary"].(map[string]any)
	require.Equal(t, json.Number("2"), bill["total_books_issued"])
	require.Equal(t, "2024-03-01", bill["issue_date"])
	require.Equal(t, "2024-03-15", bill["return_date"])
	issued := bill["books_issued"].([]any)
	require.Len(t, issued, 2)
	require.Equal(t, json.Number("10.00"), issued[0].(map[string]any)["price"])

	rec = h.do(http.MethodGet, bookPath(id), lib, nil)
	require.Equal(t, json.Number("2"), decodeBody(t, rec)["times_issued"])
}

func TestCheckoutRejectsBooksMissingFromCart(t *testing.T) {
	h := newHarness(t)
	lib := h.register("paul", "librarian")
	cust := h.register("quinn", "")
	id := h.createBook(lib, bookFixture("Beloved", "Morrison", "6", "3"))
	h.do(http.MethodPost, "/api/customer/add-to-cart/", cust, map[string]any{"book_id": id})

	rec := h.do(http.MethodPost, "/api/customer/checkout/", cust, map[string]any{"books_to_issue": []int64{id, 9}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "Some books are not in cart", body["error"])
	require.Equal(t, []any{json.Number("9")}, body["missing_books"])

	rec = h.do(http.MethodPost, "/api/customer/checkout/", cust, map[string]any{"books_to_issue": []int64{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Please select at least one book to issue.", decodeBody(t, rec)["error"])

	rec = h.do(http.MethodGet, bookPath(id), lib, nil)
	require.Equal(t, json.Number("0"), decodeBody(t, rec)["times_issued"])
}

func TestMalformedRequests(t *testing.T) {
	h := newHarness(t)
	cust := h.register("rita", "")

	rec := h.do(http.MethodPost, "/api/customer/save-book/", cust, "{")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid JSON body", decodeBody(t, rec)["error"])

	rec = h.do(http.MethodPost, "/api/customer/save-book/", cust, `{"book_id":"abc"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeBody(t, rec)["fields"], "book_id")

	rec = h.do(http.MethodGet, "/api/customer/checkout/", cust, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, "POST", rec.Header().Get("Allow"))

	rec = h.do(http.MethodGet, "/api/customer/unknown/", cust, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoginRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := ratelimit.NewFixedWindowLimiter(client, "test:login", 2, time.Minute)
	require.NoError(t, err)

	h := newHarness(t, func(cfg *Config) {
		cfg.LoginLimiter = limiter
		cfg.Alerter = security.NewAuditAlerter(client, "test:alerts")
	})
	creds := map[string]string{"username": "nobody", "password": "x"}
	for i := 0; i < 2; i++ {
		rec := h.do(http.MethodPost, "/api/login/", "", creds)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
	rec := h.do(http.MethodPost, "/api/login/", "", creds)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "too many requests", decodeBody(t, rec)["error"])
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	keys := mr.Keys()
	require.True(t, len(keys) > 1, "expected limiter and alert counters, got %v", keys)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.CORSAllowedOrigins = []string{"https://app.example.com"}
	})
	req := httptest.NewRequest(http.MethodOptions, "/api/login/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
