package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"attendance/internal/timetable"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "attendance-test"
)

func TestIssueAndParseStudent(t *testing.T) {
	in := Student{Identity: Identity{ID: "S1", Name: "Asha"}, Class: timetable.ClassKey{Branch: "CSE", Semester: "3"}, RollNo: "21CS001"}
	pair, err := Issue(in, testIssuer, testKey, time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := Parse(pair.AccessToken, testKey, testIssuer)
	if err != nil {
		t.Fatal(err)
	}
	p, err := claims.Principal()
	if err != nil {
		t.Fatal(err)
	}
	got, ok := p.(Student)
	if !ok {
		t.Fatalf("principal = %T", p)
	}
	if got.ID != "S1" || got.RollNo != "21CS001" || got.Class.Section != "A" || got.Class.Branch != "CSE" {
		t.Fatalf("student = %+v", got)
	}

	if _, err := Parse(pair.AccessToken, "other-key", testIssuer); err == nil {
		t.Fatalf("expected signature failure")
	}
	if _, err := Parse(pair.AccessToken, testKey, "someone-else"); err == nil {
		t.Fatalf("expected issuer mismatch")
	}
}

func TestRefresh(t *testing.T) {
	pair, _ := Issue(Teacher{Identity: Identity{ID: "T1"}, Department: "CSE"}, testIssuer, testKey, time.Minute, time.Hour)

	next, err := Refresh(pair.RefreshToken, testIssuer, testKey, time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, _ := Parse(next.AccessToken, testKey, testIssuer)
	if p, _ := claims.Principal(); p.Role() != RoleTeacher || p.Subject() != "T1" {
		t.Fatalf("refreshed principal = %+v", p)
	}
	if _, err := Refresh(pair.AccessToken, testIssuer, testKey, time.Minute, time.Hour); err == nil {
		t.Fatalf("access token accepted as refresh token")
	}
}

func TestCanActFor(t *testing.T) {
	s := Student{Identity: Identity{ID: "S1"}}
	if !CanActFor(s, "S1") || CanActFor(s, "S2") {
		t.Fatalf("student scope wrong")
	}
	if !CanActFor(Teacher{Identity: Identity{ID: "T1"}}, "S2") || !CanActFor(Admin{Identity: Identity{ID: "A"}}, "S2") {
		t.Fatalf("staff scope wrong")
	}
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/teacher", Bearer(testKey, testIssuer), RequireRole(RoleTeacher, RoleAdmin), func(c *gin.Context) {
		p, _ := PrincipalFrom(c)
		c.String(http.StatusOK, p.Subject())
	})
	r.GET("/admin", AdminKey("secret"), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestBearerMiddleware(t *testing.T) {
	r := newRouter()
	teacher, _ := Issue(Teacher{Identity: Identity{ID: "T1"}}, testIssuer, testKey, time.Minute, time.Hour)
	student, _ := Issue(Student{Identity: Identity{ID: "S1"}, Class: timetable.ClassKey{Branch: "CSE", Semester: "3"}}, testIssuer, testKey, time.Minute, time.Hour)

	tests := []struct {
		name  string
		authz string
		want  int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"refresh token", "Bearer " + teacher.RefreshToken, http.StatusUnauthorized},
		{"wrong role", "Bearer " + student.AccessToken, http.StatusForbidden},
		{"teacher", "Bearer " + teacher.AccessToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/teacher", nil)
			if tt.authz != "" {
				req.Header.Set("Authorization", tt.authz)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAdminKey(t *testing.T) {
	r := newRouter()
	for key, want := range map[string]int{"": http.StatusUnauthorized, "wrong": http.StatusUnauthorized, "secret": http.StatusNoContent} {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("X-Admin-Key", key)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("key %q: status = %d, want %d", key, w.Code, want)
		}
	}
}
