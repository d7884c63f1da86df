package publish

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/pladee42/alt-history-reel/config"
	"github.com/pladee42/alt-history-reel/models"
)

// YouTubePublisher uploads finished reels to the channel via the Data API.
// Credentials come from YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET and
// YOUTUBE_REFRESH_TOKEN.
type YouTubePublisher struct {
	cfg *config.Config
	log *logrus.Entry
}

func NewYouTubePublisher(cfg *config.Config) *YouTubePublisher {
	return &YouTubePublisher{
		cfg: cfg,
		log: logrus.WithField("component", "youtube"),
	}
}

// Publish uploads the reel and returns its watch URL.
func (p *YouTubePublisher) Publish(ctx context.Context, rec *models.ScenarioRecord, videoPath string) (string, error) {
	client, err := p.oauthClient(ctx)
	if err != nil {
		return "", fmt.Errorf("youtube auth: %w", err)
	}

	svc, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return "", fmt.Errorf("youtube service: %w", err)
	}

	title := rec.Title
	if title == "" {
		title = rec.Premise
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:                title,
			Description:          buildDescription(rec),
			CategoryId:           p.cfg.Publish.CategoryID,
			DefaultLanguage:      p.cfg.Publish.DefaultLanguage,
			DefaultAudioLanguage: p.cfg.Publish.DefaultLanguage,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: p.cfg.Publish.Visibility,
		},
	}

	f, err := os.Open(videoPath)
	if err != nil {
		return "", fmt.Errorf("open reel: %w", err)
	}
	defer f.Close()

	p.log.WithFields(logrus.Fields{"scenario": rec.ID, "title": title}).Info("uploading to youtube")
	uploaded, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(f).Do()
	if err != nil {
		return "", fmt.Errorf("youtube upload: %w", err)
	}

	watchURL := fmt.Sprintf("https://www.youtube.com/watch?v=%s", uploaded.Id)
	p.log.WithFields(logrus.Fields{"scenario": rec.ID, "url": watchURL}).Info("youtube upload done")
	return watchURL, nil
}

func (p *YouTubePublisher) oauthClient(ctx context.Context) (*http.Client, error) {
	clientID := os.Getenv("YOUTUBE_CLIENT_ID")
	clientSecret := os.Getenv("YOUTUBE_CLIENT_SECRET")
	refreshToken := os.Getenv("YOUTUBE_REFRESH_TOKEN")
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, fmt.Errorf("YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET and YOUTUBE_REFRESH_TOKEN must be set")
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope},
	}
	token := &oauth2.Token{
		RefreshToken: refreshToken,
		// Force an immediate refresh from the long-lived token.
		Expiry: time.Now().Add(-time.Hour),
	}
	return oauth2.NewClient(ctx, conf.TokenSource(ctx, token)), nil
}

func buildDescription(rec *models.ScenarioRecord) string {
	var b strings.Builder
	b.WriteString(rec.Premise)
	b.WriteString("\n\n")
	for i, st := range rec.Stages {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, st.Year, st.Label)
	}
	return b.String()
}
